// Package main provides the caseflow binary: the workflow automation engine
// for case events, its deferred-step sweep and operator commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/caseflow/pkg/schema"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "caseflow",
		Short:         "Workflow automation engine for case events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file (default ~/.caseflow/settings.json)")
	bindFlags(cmd.PersistentFlags())

	// resolve loads the layered config for a command.
	resolve := func(c *cobra.Command) (Config, error) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return cfg, err
		}
		applyFlags(c.Flags(), &cfg)
		return cfg, cfg.validate()
	}

	cmd.AddCommand(
		serveCmd(resolve),
		sweepCmd(resolve),
		triggerCmd(resolve),
		requeueCmd(resolve),
		migrateCmd(resolve),
		initCmd(&configPath),
		versionCmd(),
	)
	return cmd
}

type resolver func(*cobra.Command) (Config, error)

// withApp resolves config, wires the engine and runs fn with it.
func withApp(c *cobra.Command, resolve resolver, fn func(ctx context.Context, a *app) error) error {
	cfg, err := resolve(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, c.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func serveCmd(resolve resolver) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic sweep and expose /metrics",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withApp(c, resolve, serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := a.sweeper.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("caseflow serving", "addr", a.cfg.ListenAddr, "version", version, "worker", a.sweeper.WorkerID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.sweeper.Stop(); err != nil {
		a.logger.Error("stop sweeper", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

func sweepCmd(resolve resolver) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep pass over due deferred steps",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withApp(c, resolve, func(ctx context.Context, a *app) error {
				res, err := a.sweeper.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSON(c.OutOrStdout(), res)
			})
		},
	}
}

func triggerCmd(resolve resolver) *cobra.Command {
	var contextPath string
	cmd := &cobra.Command{
		Use:   "trigger <kind>",
		Short: "Dispatch an event to every matching active workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			evt, err := readEventContext(c.InOrStdin(), contextPath)
			if err != nil {
				return err
			}
			return withApp(c, resolve, func(ctx context.Context, a *app) error {
				res, err := a.dispatcher.Dispatch(ctx, schema.TriggerKind(args[0]), evt)
				if err != nil {
					return err
				}
				return printJSON(c.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&contextPath, "context", "-", "event context JSON file, - for stdin")
	return cmd
}

func readEventContext(stdin io.Reader, path string) (*schema.EventContext, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read event context: %w", err)
	}
	return schema.UnmarshalContext(data)
}

func requeueCmd(resolve resolver) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "requeue <deferred-id>",
		Short: "Put a failed or stuck deferred step back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var executeAt time.Time
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				executeAt = t
			}
			return withApp(c, resolve, func(ctx context.Context, a *app) error {
				if err := a.sweeper.Requeue(ctx, args[0], executeAt); err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "requeued %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 time to run at (default now)")
	return cmd
}

func migrateCmd(resolve resolver) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withApp(c, resolve, func(ctx context.Context, a *app) error {
				v, err := a.store.SchemaVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "schema version %d\n", v)
				return nil
			})
		},
	}
}

// initCmd writes a settings file from defaults, env and flags.
func initCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the settings file",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			applyFlags(c.Flags(), &cfg)
			if err := cfg.validate(); err != nil {
				return err
			}
			path := *configPath
			if path == "" {
				path = settingsPath()
			}
			if err := writeSettings(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "Config written to %s\n", path)
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
