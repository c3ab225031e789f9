// Command server runs the optimo HTTP API. It is equivalent to "optimo serve" and
// reads the same configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/optimo/internal/api"
	"github.com/example/optimo/internal/app"
	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("OPTIMO_CONFIG"))
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Warn(closeCtx, "shutdown", zap.Error(err))
		}
	}()

	srv := api.NewServer(a.Coordinator, a.Metrics.Handler(), log.Named("api"))
	err = api.ListenAndServe(ctx, cfg.Server.Addr, srv.Routes(), log)
	a.Coordinator.Wait()
	return err
}
