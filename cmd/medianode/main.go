package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/dkeye/Conference/internal/adapters/rtc"
	"github.com/dkeye/Conference/internal/adapters/wsclient"
	"github.com/dkeye/Conference/internal/app/session"
	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/medianode"
)

func main() {
	app := &cli.App{
		Name:  "medianode",
		Usage: "host sfu and mcu rooms of a remote signaling server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "signal-url",
				Usage:    "signaling WebSocket, e.g. ws://localhost:8080/api/ws/signal",
				Required: true,
				EnvVars:  []string{"SIGNAL_URL"},
			},
			&cli.StringFlag{
				Name:  "room",
				Usage: "host only this room instead of following announcements",
			},
			&cli.StringFlag{
				Name:  "topology",
				Usage: "topology of --room (sfu or mcu)",
				Value: string(domain.TopologySFU),
			},
			&cli.StringFlag{
				Name:    "config-env",
				Usage:   "selects config/config.<env>.yaml",
				EnvVars: []string{"CONFIG_ENV"},
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("medianode")
	}
}

func run(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	config.SetupLogger("info")
	cfg, err := config.Load(c.String("config-env"))
	if err != nil {
		return err
	}
	config.SetupLogger(cfg.LogLevel)

	factory, err := rtc.NewFactory(rtc.ConfigFromURLs(cfg.ICEServers), nil)
	if err != nil {
		return err
	}
	ch, err := wsclient.Dial(ctx, c.String("signal-url"))
	if err != nil {
		return err
	}
	defer ch.Close()

	if room := c.String("room"); room != "" {
		return hostRoom(ctx, cfg, ch, factory, domain.RoomName(room), c.String("topology"))
	}

	topologies, err := cfg.MediaNode.HostedTopologies()
	if err != nil {
		return err
	}
	node := medianode.New(ch, medianode.Options{
		Topologies:         topologies,
		Transports:         factory,
		Mixer:              cfg.Mixer,
		NegotiationTimeout: cfg.NegotiationTimeout,
		AutoCallDelay:      cfg.AutoCallDelay,
	})
	return node.Run(ctx)
}

// hostRoom runs one session as the central unit of room until ctx ends.
func hostRoom(ctx context.Context, cfg *config.Config, ch *wsclient.Channel, factory *rtc.Factory, room domain.RoomName, topology string) error {
	t, err := domain.ParseTopology(topology)
	if err != nil {
		return err
	}
	sess := session.New(session.Config{
		Room:               room,
		Role:               domain.RoleCentralUnit,
		Topology:           t,
		Channel:            ch,
		Transports:         factory,
		Mixer:              cfg.Mixer,
		NegotiationTimeout: cfg.NegotiationTimeout,
		AutoCallDelay:      cfg.AutoCallDelay,
	})
	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Leave()

	log.Info().Str("module", "medianode").Str("room", string(room)).Str("topology", string(t)).Msg("hosting room")
	sess.Pump(ctx, ch.Events())
	return nil
}
