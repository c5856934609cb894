package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Conference/internal/adapters/http"
	"github.com/dkeye/Conference/internal/adapters/local"
	"github.com/dkeye/Conference/internal/adapters/rtc"
	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/medianode"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	config.SetupLogger("info")
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.SetupLogger(cfg.LogLevel)

	defaultTopology, err := domain.ParseTopology(cfg.DefaultTopology)
	if err != nil {
		log.Fatal().Err(err).Msg("bad default_topology")
	}

	o := orch.New(app.NewRegistry(), app.NewRoomStore(defaultTopology), app.SimplePolicy{})

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Conference server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.MediaNode.Enabled {
		node, err := embeddedNode(cfg, o)
		if err != nil {
			log.Fatal().Err(err).Msg("media node setup")
		}
		g.Go(func() error { return node.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		return
	}
	log.Info().Msg("Server exited gracefully")
}

func embeddedNode(cfg *config.Config, o *orch.Orchestrator) (*medianode.Node, error) {
	topologies, err := cfg.MediaNode.HostedTopologies()
	if err != nil {
		return nil, err
	}
	factory, err := rtc.NewFactory(rtc.ConfigFromURLs(cfg.ICEServers), nil)
	if err != nil {
		return nil, err
	}
	return medianode.New(local.Connect(o), medianode.Options{
		Topologies:         topologies,
		Transports:         factory,
		Mixer:              cfg.Mixer,
		NegotiationTimeout: cfg.NegotiationTimeout,
		AutoCallDelay:      cfg.AutoCallDelay,
	}), nil
}
