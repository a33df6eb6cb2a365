package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nfrund/duochat/internal/app"
	"github.com/nfrund/duochat/internal/modules/chat"
	"github.com/nfrund/duochat/internal/registry"
	"github.com/nfrund/duochat/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	Long: `Run the REST API under /api, the real-time channel at /ws, /health and
/metrics. Users listed in DUOCHAT_SEED_USERS are created if missing.
The server shuts down gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.NewDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize core services: %w", err)
	}

	s := server.New(deps)
	if err := s.InitModules(ctx, app.NewModules()); err != nil {
		_ = deps.Close(context.WithoutCancel(ctx))
		return err
	}
	s.RegisterRoutes()

	if seeds := cfg.GetSeedUsers(); len(seeds) > 0 {
		svc := registry.MustGet(s.Registry, chat.ServiceKey)
		users, err := svc.EnsureUsers(ctx, seeds)
		if err != nil {
			_ = s.Shutdown(context.WithoutCancel(ctx))
			return fmt.Errorf("failed to seed users: %w", err)
		}
		for _, u := range users {
			slog.Info("Seed user ready", "user_id", u.ID, "username", u.Username)
		}
	}

	return s.Start(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
