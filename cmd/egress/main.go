package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zsiec/egress/internal/api"
	"github.com/zsiec/egress/internal/config"
	"github.com/zsiec/egress/internal/container"
	"github.com/zsiec/egress/internal/metrics"
	"github.com/zsiec/egress/internal/stream"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "egress",
		Short:         "Live stream egress server: accepts streams and pushes them to RTMP, MPEG-TS, SRT and QUIC targets",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	setupLogging(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	collector := metrics.NewCollector()
	mgr := stream.NewManager(cfg.Stream.Application, cfg.Stream.Workers, collector, nil)
	apiSrv := api.NewServer(mgr, container.NewMuxer(), cfg, nil)

	slog.Info("egress starting",
		"version", version,
		"api", cfg.API.Addr,
		"application", cfg.Stream.Application,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiSrv.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		for _, s := range mgr.List() {
			mgr.Remove(s.Name())
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		return err
	}
	return nil
}

func setupLogging(cfg config.Log) {
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
	}

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
}
