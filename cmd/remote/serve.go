package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/peterje/rec/internal/config"
	"github.com/peterje/rec/internal/httpapi"
	"github.com/peterje/rec/internal/rlog"
	"github.com/peterje/rec/internal/session"
)

// exitError carries the process exit code spec.md §6 assigns to each
// startup failure mode, distinct from a generic error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

var (
	flagHost      string
	flagPort      int
	flagAuthToken string
	flagLogLevel  string
	flagLogPretty bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REC HTTP daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagHost, "host", "", "bind address (overrides REC_HOST)")
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "bind port (overrides REC_PORT)")
	serveCmd.Flags().StringVar(&flagAuthToken, "auth-token", "", "bearer token required on protected routes (overrides REC_AUTH_TOKEN)")
	serveCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "zerolog level (overrides REC_LOG_LEVEL)")
	serveCmd.Flags().BoolVar(&flagLogPretty, "log-pretty", false, "use the console log writer instead of JSON")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(settings)

	logger := rlog.New(settings.LogLevel, settings.LogPretty)

	if err := resolveAuthToken(settings, logger); err != nil {
		return &exitError{code: 2, err: err}
	}

	cfg := session.DefaultConfig()
	cfg.DefaultTimeout = settings.DefaultTimeout
	cfg.StartupTimeout = settings.StartupTimeout
	cfg.InterruptGrace = settings.InterruptGrace()
	cfg.ResyncTimeout = settings.ResyncTimeout()

	registry := session.NewRegistry(cfg, logger)
	server := httpapi.New(registry, settings, logger)

	httpSrv := &http.Server{
		Addr:    settings.Addr(),
		Handler: server.Handler(),
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", settings.Addr()).Msg("starting runtime")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-sigCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case <-server.ShutdownRequested():
		logger.Info().Msg("/close called, shutting down")
	case err := <-errCh:
		return &exitError{code: 1, err: fmt.Errorf("bind %s: %w", settings.Addr(), err)}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()

	server.CloseAll()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// resolveAuthToken fills in a random bearer token when none was configured
// (dev convenience, spec.md §6) and rejects a token containing whitespace,
// which is never a deliberate choice and always a copy/paste mistake.
func resolveAuthToken(settings *config.Settings, logger zerolog.Logger) error {
	if settings.AuthToken == "" {
		settings.AuthToken = uuid.NewString()
		logger.Warn().Str("auth_token", settings.AuthToken).Msg("no auth token configured, generated one for this run")
		return nil
	}
	if strings.ContainsAny(settings.AuthToken, " \t\n\r") {
		return errors.New("auth token must not contain whitespace")
	}
	return nil
}

func applyFlagOverrides(settings *config.Settings) {
	if flagHost != "" {
		settings.Host = flagHost
	}
	if flagPort != 0 {
		settings.Port = flagPort
	}
	if flagAuthToken != "" {
		settings.AuthToken = flagAuthToken
	}
	if flagLogLevel != "" {
		settings.LogLevel = flagLogLevel
	}
	if flagLogPretty {
		settings.LogPretty = true
	}
}
