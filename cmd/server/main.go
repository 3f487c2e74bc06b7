package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielpatrickdp/delay-risk/internal/audit"
	"github.com/danielpatrickdp/delay-risk/internal/config"
	"github.com/danielpatrickdp/delay-risk/internal/logging"
	"github.com/danielpatrickdp/delay-risk/internal/pipeline"
	"github.com/danielpatrickdp/delay-risk/internal/server"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// #region main
func main() {
	cfg := config.LoadServer()
	flag.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
	flag.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	flag.StringVar(&cfg.Artifact, "artifact", cfg.Artifact, "model artifact path or sqlite://registry.db")
	flag.StringVar(&cfg.AuditDSN, "audit", cfg.AuditDSN, "audit log DSN (sqlite://path or postgres://...)")
	flag.Parse()

	logger := logging.Init(cfg.LogFormat, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		stop()
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// #endregion main

// #region run
// run serves until ctx is cancelled, then drains health and shuts down.
func run(ctx context.Context, cfg config.Server, logger *slog.Logger) error {
	// Load before listening so nothing is served without a model.
	p, err := pipeline.Load(cfg.Artifact)
	if err != nil {
		return err
	}
	info := p.Info()
	logger.Info("model loaded",
		"source", cfg.Artifact,
		"version", info.Version,
		"dimension", info.Dimension,
		"threshold", info.Threshold,
	)

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMaxBodyBytes(cfg.MaxBodyBytes),
	}
	if cfg.AuditDSN != "" {
		auditLog, err := audit.Open(cfg.AuditDSN)
		if err != nil {
			return err
		}
		defer auditLog.Close()
		opts = append(opts, server.WithRecorder(auditLog))
	}
	srv := server.New(p, opts...)

	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", httpLis.Addr().String())
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			httpServer.Close()
			_ = g.Wait()
			return err
		}
		grpcServer = srv.GRPCServer()
		g.Go(func() error {
			logger.Info("grpc health listening", "addr", grpcLis.Addr().String())
			if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
		srv.Drain()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if grpcServer != nil {
			stopGRPC(shutdownCtx, grpcServer)
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// stopGRPC waits for in-flight RPCs until ctx expires, then force-stops.
func stopGRPC(ctx context.Context, gs *grpc.Server) {
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		gs.Stop()
		<-done
	}
}

// #endregion run
