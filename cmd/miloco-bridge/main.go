//go:build linux

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/davecgh/go-spew/spew"
	"github.com/edirooss/miloco-bridge/internal/api"
	"github.com/edirooss/miloco-bridge/internal/bridge"
	"github.com/edirooss/miloco-bridge/internal/config"
	"github.com/edirooss/miloco-bridge/internal/repo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := buildLogger()
	defer log.Sync()
	log = log.Named("main")

	log.Debug("effective config", zap.String("dump", spew.Sdump(cfg.Redacted())))

	// SIGINT/SIGTERM end the supervisor loop after the current teardown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rep *repo.Repository
	if cfg.RedisAddr != "" {
		rep = repo.NewRepository(log, cfg.RedisAddr)
		defer rep.Close()
	}

	sup := bridge.New(log, cfg, rep)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })
	if cfg.HTTPAddr != "" {
		srv := api.NewServer(log, cfg.HTTPAddr, sup, sup.Logs())
		g.Go(func() error { return srv.Run(gctx) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal("bridge failed", zap.Error(err))
	}
	log.Info("bridge stopped")
}

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	logConfig.Level.SetLevel(zap.DebugLevel)
	return zap.Must(logConfig.Build())
}
