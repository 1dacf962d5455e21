package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/alzassist/internal/observability"
	"github.com/harun/alzassist/internal/tracing"
	"github.com/harun/alzassist/pkg/chat"
	"github.com/harun/alzassist/pkg/commandqueue"
	"github.com/harun/alzassist/pkg/gateway"
	"github.com/harun/alzassist/pkg/hooks"
	"github.com/spf13/cobra"
)

var (
	shutdownTimeout time.Duration
	secureCookies   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web front-end",
	Long: `Start the web front-end in the foreground.
Conversations are served over a websocket at /ws and as Server-Sent Events
at /api/chat. Send SIGINT or SIGTERM to stop; running turns get the
shutdown timeout to finish before they are aborted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time to wait for running turns on shutdown")
	serveCmd.Flags().BoolVar(&secureCookies, "secure-cookies", false, "mark session cookies Secure (serve behind TLS)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer lg.Close()
	log := lg.Zerolog()

	if err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	}); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(ctx)
	}()

	if cfg.Server.AuditLog != "" {
		if err := observability.InitAuditLogger(cfg.Server.AuditLog); err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer observability.GetAuditLogger().Close()
	}

	if err := provisionCredentials(cfg.Credentials, log); err != nil {
		return err
	}

	orchestrator, err := newOrchestrator(cfg, log)
	if err != nil {
		return err
	}

	queue := commandqueue.New(commandqueue.Options{Logger: &log})
	defer queue.Close()

	hookManager, err := newHookManager(cfg.Hooks, log)
	if err != nil {
		return err
	}
	defer hookManager.Wait()
	filter, err := newPromptFilter(cfg.Moderation)
	if err != nil {
		return err
	}

	service := chat.NewService(orchestrator, queue, chat.Config{
		Filter: filter,
		Hooks:  hookManager,
		Logger: log,
	})

	server, err := gateway.NewServer(gateway.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		Chat:          service,
		Queue:         queue,
		PasswordHash:  cfg.Server.PasswordHash,
		StorageSecret: cfg.Server.StorageSecret,
		SessionTTL:    cfg.Server.SessionTTL,
		SecureCookies: secureCookies,
		Logger:        log,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := server.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "alzassist listening on %s\n", server.Addr())
	hookManager.TriggerAsync(cmd.Context(), hooks.EventServerStarted, map[string]interface{}{
		"addr": server.Addr(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	if err := hookManager.Trigger(context.Background(), hooks.EventServerStopping, nil); err != nil {
		log.Warn().Err(err).Msg("Shutdown hook failed")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
