package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/optimo/internal/api"
	"github.com/example/optimo/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP",
	Long: `Serve the pipeline over HTTP until interrupted.

Endpoints:
  POST /runs                 start a run ({"problem": ..., "document": {...}}; ?wait=true to block)
  POST /runs/{id}/clarify    answer clarification questions ({"answer": ...})
  GET  /runs, /runs/{id}     inspect runs
  GET  /runs/{id}/events     server-sent events for one run
  GET  /metrics              Prometheus metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	a, err := app.New(ctx, cfg, log, appOptions)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Warn(closeCtx, "shutdown", zap.Error(err))
		}
	}()

	srv := api.NewServer(a.Coordinator, a.Metrics.Handler(), log.Named("api"))
	err = api.ListenAndServe(ctx, cfg.Server.Addr, srv.Routes(), log)
	// Let in-flight runs reach a stable state before the ledger closes.
	a.Coordinator.Wait()
	return err
}
