package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/cartridge/per/internal/config"
	"github.com/cartridge/per/internal/events"
	adminhttp "github.com/cartridge/per/internal/http"
	"github.com/cartridge/per/internal/metrics"
	"github.com/cartridge/per/internal/monitor"
	"github.com/cartridge/per/internal/replay"
	"github.com/cartridge/per/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the replay gRPC service and admin HTTP endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), cfg, newLogger(cfg.LogLevel))
	},
}

func init() {
	defaults := config.Default()
	flags := serveCmd.Flags()
	flags.String("grpc-addr", defaults.Server.GRPCAddr, "gRPC listen address")
	flags.String("http-addr", defaults.Server.HTTPAddr, "Admin HTTP listen address (empty disables)")
	flags.Duration("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout")
	flags.String("nats-url", defaults.Events.NATSURL, "NATS URL for stats events (empty disables)")
	flags.String("events-subject", defaults.Events.Subject, "NATS subject for stats events")
	flags.Duration("events-interval", defaults.Events.Interval, "Stats publishing interval")

	for key, flag := range map[string]string{
		"server.grpc_addr":        "grpc-addr",
		"server.http_addr":        "http-addr",
		"server.shutdown_timeout": "shutdown-timeout",
		"events.nats_url":         "nats-url",
		"events.subject":          "events-subject",
		"events.interval":         "events-interval",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// serve runs until ctx is cancelled, then drains both servers.
func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := replay.New(cfg.Replay,
		replay.WithLogger(logger),
		replay.WithMetrics(metrics.NewCollector(reg)),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing engine")
		}
	}()

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.NATSURL != "" {
		nats, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject, logger)
		if err != nil {
			return err
		}
		defer nats.Close()
		publisher = nats
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		service.LoggingInterceptor(logger),
		service.RecoveryInterceptor(logger),
	))
	service.RegisterReplayServer(grpcServer, service.NewReplayService(engine, logger))

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	var httpSrv *http.Server
	if cfg.Server.HTTPAddr != "" {
		httpSrv = &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           adminhttp.NewServer(engine, reg, logger).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", lis.Addr().String()).Msg("Replay gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})

	if httpSrv != nil {
		g.Go(func() error {
			logger.Info().Str("addr", httpSrv.Addr).Msg("Admin HTTP server listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		monitor.NewMonitor(engine, publisher, cfg.Events.Interval, logger).Start(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if httpSrv != nil {
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Admin HTTP shutdown failed")
			}
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		select {
		case <-shutdownCtx.Done():
			logger.Warn().Msg("Shutdown timeout exceeded, forcing stop")
			grpcServer.Stop()
		case <-stopped:
			logger.Info().Msg("Server stopped gracefully")
		}
		return nil
	})

	return g.Wait()
}
