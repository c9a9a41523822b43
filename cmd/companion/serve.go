package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/cortexcompanion/internal/bus"
	"github.com/normanking/cortexcompanion/internal/config"
	"github.com/normanking/cortexcompanion/internal/server"
	"github.com/normanking/cortexcompanion/internal/speech"
	"github.com/normanking/cortexcompanion/internal/voice"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the companion to browser clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initRuntime(true); err != nil {
				return err
			}
			defer syslog.Close()

			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(parent context.Context) error {
	logger := syslog.Component("main")

	var player *speech.ClientPlayer
	a, err := newApp(cfg, func(b *bus.EventBus) speech.Player {
		player = speech.NewClientPlayer(b, syslog.Component("player"))
		return player
	}, cfg.Speech.Provider != "none")
	if err != nil {
		return err
	}

	// Recognition runs in the browser, so it needs a connected client
	var hub *server.Hub
	recognizer := voice.NewClientRecognizer(a.bus, func() bool {
		return hub.Count() > 0
	})
	bridge := voice.NewBridge(recognizer, a.companion, cfg.Voice.Language, syslog.Component("voice"))

	srv := server.New(&server.Config{
		Addr:        cfg.Server.Addr,
		ReadTimeout: cfg.Server.ReadTimeout,
	}, server.Deps{
		Companion:   a.companion,
		Bus:         a.bus,
		Listener:    bridge,
		Recognition: recognizer,
		Playback:    player,
		Logs:        syslog,
	}, syslog.Zerolog())
	hub = srv.Hub()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.companion.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })

	cfg.Watch(func(next *config.Config) {
		a.applyReload(next, logger)
	}, func(err error) {
		logger.Warn().Err(err).Msg("config reload rejected")
	})

	err = g.Wait()
	bridge.Stop()
	a.companion.Wait()
	a.pipeline.Wait()
	logger.Info().Msg("companion shut down")
	return err
}
