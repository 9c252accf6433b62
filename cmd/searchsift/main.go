// Command searchsift runs the search-activity pipeline: the capture agent,
// the ingestion backend, report generation, and credential provisioning.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/searchsift/internal/agent"
	"github.com/FranksOps/searchsift/internal/buffer"
	"github.com/FranksOps/searchsift/internal/config"
	"github.com/FranksOps/searchsift/internal/metrics"
	"github.com/FranksOps/searchsift/internal/report"
	"github.com/FranksOps/searchsift/internal/server"
	"github.com/FranksOps/searchsift/internal/storage"
	"github.com/FranksOps/searchsift/internal/storage/postgres"
	"github.com/FranksOps/searchsift/internal/storage/sqlite"
	"github.com/FranksOps/searchsift/internal/transport"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:          "searchsift",
		Short:        "Search activity capture and aggregation pipeline",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(serveCmd(), agentCmd(), reportCmd(), genkeyCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig(logger *slog.Logger) (*config.Store, error) {
	store, err := config.Load(configPath, logger)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		store.Watch()
	}
	return store, nil
}

func openBackend(ctx context.Context, settings config.Settings) (storage.Backend, error) {
	switch settings.DatabaseDriver {
	case "sqlite", "":
		return sqlite.New(settings.DatabaseDSN)
	case "postgres":
		return postgres.New(ctx, settings.DatabaseDSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", settings.DatabaseDriver)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion and query backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			store, err := loadConfig(logger)
			if err != nil {
				return err
			}
			settings := store.Get()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			backend, err := openBackend(ctx, settings)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer backend.Close()

			srv := server.New(backend, settings.DatabaseDSN, server.Config{
				Credential:     store.Credential,
				AllowedOrigins: settings.AllowedOrigins,
				Logger:         logger,
			})

			addr := fmt.Sprintf("%s:%d", settings.ServerHost, settings.ServerPort)
			httpSrv := &http.Server{Addr: addr, Handler: srv}

			var msrv *metrics.Server
			if settings.MetricsPort > 0 {
				msrv = metrics.Start(settings.MetricsPort)
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("backend listening", "addr", addr, "driver", settings.DatabaseDriver)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if msrv != nil {
					_ = msrv.Stop(shutCtx)
				}
				return httpSrv.Shutdown(shutCtx)
			})
			return g.Wait()
		},
	}
}

func agentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the capture agent pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			store, err := loadConfig(logger)
			if err != nil {
				return err
			}
			settings := store.Get()

			a := agent.New(agent.Options{
				Buffer: buffer.Config{
					BatchSize:    settings.BatchSize,
					BatchTimeout: settings.BatchTimeout,
					MaxEventAge:  settings.MaxEventAge,
					DedupeWindow: settings.DedupeWindow,
				},
				Transport: transport.Config{
					BaseURL:            settings.BackendURL,
					Credential:         store.Credential,
					MinRequestInterval: settings.MinRequestInterval,
					BaseDelay:          settings.BaseDelay,
					MaxRetries:         settings.MaxRetries,
					OnStatus: func(st transport.Status) {
						logger.Debug("delivery status", "state", st.State, "events", st.Count)
					},
				},
				Logger: logger,
			})
			a.SetEnabled(settings.CaptureEnabled)
			store.Subscribe(func(s config.Settings) {
				a.SetEnabled(s.CaptureEnabled)
			})

			var msrv *metrics.Server
			if settings.MetricsPort > 0 {
				msrv = metrics.Start(settings.MetricsPort)
			}

			// SIGTERM cancels the context; the buffer makes one best-effort
			// final flush on the way out.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if version, err := a.Health(ctx); err != nil {
				logger.Warn("backend unreachable at startup", "err", err)
			} else {
				logger.Info("backend reachable", "version", version)
			}

			logger.Info("capture agent running", "backend", settings.BackendURL)
			err = a.Run(ctx)

			if msrv != nil {
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = msrv.Stop(shutCtx)
			}
			return err
		},
	}
}

func reportCmd() *cobra.Command {
	var (
		date   string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a daily activity report",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			store, err := loadConfig(logger)
			if err != nil {
				return err
			}
			settings := store.Get()

			day, err := time.Parse("2006-01-02", date)
			if err != nil {
				return fmt.Errorf("bad date %q: %w", date, err)
			}
			start := day.UTC()
			end := start.Add(24 * time.Hour)

			ctx := cmd.Context()
			backend, err := openBackend(ctx, settings)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer backend.Close()

			records, err := backend.Query(ctx, storage.Filter{Start: &start, End: &end})
			if err != nil {
				return fmt.Errorf("load records: %w", err)
			}

			daily := report.GenerateDaily(date, records)

			if outDir == "" {
				outDir = settings.ReportsDir
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create reports dir: %w", err)
			}

			writers := map[string]func(*os.File) error{
				"report_" + date + ".txt":  func(f *os.File) error { return report.WriteText(f, daily) },
				"report_" + date + ".html": func(f *os.File) error { return report.WriteHTML(f, daily) },
				"report_" + date + ".json": func(f *os.File) error { return report.WriteJSON(f, daily) },
				"records_" + date + ".csv": func(f *os.File) error { return report.WriteCSV(f, records) },
			}
			for name, write := range writers {
				path := filepath.Join(outDir, name)
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("create %s: %w", path, err)
				}
				if err := write(f); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("close %s: %w", path, err)
				}
				logger.Info("report written", "path", path)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d searches, %d clicks, %d unique queries\n",
				date, daily.TotalSearches, daily.TotalClicks, daily.UniqueQueries)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", time.Now().UTC().Format("2006-01-02"), "report date (YYYY-MM-DD, UTC)")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (default: configured reports dir)")
	return cmd
}

func genkeyCmd() *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a shared API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			buf := make([]byte, 32)
			if _, err := rand.Read(buf); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			key := hex.EncodeToString(buf)

			if save {
				logger := newLogger()
				store, err := config.Load(configPath, logger)
				if err != nil {
					return err
				}
				if configPath == "" {
					return errors.New("--save needs --config")
				}
				if err := store.Set("api_key", key); err != nil {
					return err
				}
				logger.Info("credential saved", "file", configPath)
			}

			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "persist the key into the config file")
	return cmd
}
