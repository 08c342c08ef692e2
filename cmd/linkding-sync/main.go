// Command linkding-sync keeps a linkding instance and a local bookmark
// tree reconciled in both directions.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/klppl/linkding-sync/internal/bookmarks"
	"github.com/klppl/linkding-sync/internal/config"
	"github.com/klppl/linkding-sync/internal/linkding"
	"github.com/klppl/linkding-sync/internal/tagsync"
)

var (
	configPath string
	verbose    bool
	logger     zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "linkding-sync",
		Short: "Two-way sync between linkding and a local bookmark tree",
		Long: `linkding-sync keeps two bookmark collections consistent: a flat,
tag-annotated linkding instance and a hierarchical local folder tree.
Folder locations are encoded as hierarchical tags on the remote side.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = newLogger(verbose)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", envOrDefault("LINKDING_SYNC_CONFIG", defaultConfigPath()), "settings file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newInitCmd(), newSyncCmd(), newMirrorCmd(), newDaemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newInitCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Bootstrap the sync mapping (push, pull or merge)",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := tagsync.ParseInitialMode(mode)
			if err != nil {
				return err
			}
			app, err := buildApp()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			result, err := app.scheduler.RunInitialSync(ctx, parsed)
			if err != nil {
				return err
			}
			logger.Info().
				Int("added", result.Added).
				Int("updated", result.Updated).
				Int("downloaded", result.Downloaded).
				Int("errors", result.Errors).
				Int("total", result.Total).
				Msg("initial sync finished")
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "merge", "initial sync mode: push, pull or merge")
	return cmd
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one incremental reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			result, err := app.scheduler.RunReconciliation(ctx)
			if err != nil {
				if errors.Is(err, tagsync.ErrNoMapping) {
					return fmt.Errorf("%w (use 'linkding-sync init')", err)
				}
				return err
			}
			logger.Info().
				Int("added", result.Added).
				Int("removed", result.Removed).
				Int("updated", result.Updated).
				Int("errors", result.Errors).
				Int("total", result.Total).
				Msg("reconciliation finished")
			return nil
		},
	}
}

func newMirrorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mirror",
		Short: "One-way download: wipe the local sync root and recreate it from linkding",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			result, err := app.engine.Mirror(ctx)
			if err != nil {
				return err
			}
			logger.Info().
				Int("downloaded", result.Downloaded).
				Int("errors", result.Errors).
				Msg("mirror finished")
			return nil
		},
	}
}

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Watch for changes and reconcile continuously",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			mapping, err := app.mapping.Load()
			if err != nil {
				return err
			}
			if mapping == nil {
				return fmt.Errorf("%w (use 'linkding-sync init')", tagsync.ErrNoMapping)
			}

			ctx, stop := signalContext()
			defer stop()
			return runDaemon(ctx, app)
		},
	}
}

func runDaemon(ctx context.Context, app *app) error {
	scheduler := tagsync.NewScheduler(app.engine, tagsync.SchedulerOptions{
		Debounce: time.Duration(app.cfg.Debounce),
		Logger:   logger,
		Context:  ctx,
	})
	defer scheduler.Close()

	watcher, err := bookmarks.NewWatcher(app.store.FilePath())
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		return err
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			logger.Warn().Err(err).Msg("stopping watcher")
		}
	}()

	interval := time.Duration(app.cfg.Interval)
	logger.Info().
		Str("bookmarks", app.store.FilePath()).
		Dur("interval", interval).
		Dur("debounce", time.Duration(app.cfg.Debounce)).
		Msg("daemon started")

	scheduler.RequestSync()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("daemon stopping")
			return nil
		case <-ticker.C:
			scheduler.RequestSync()
		case _, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			scheduler.NotifyLocalChange()
		case err, ok := <-watcher.Errors():
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("bookmarks watcher error")
		}
	}
}

type app struct {
	cfg       *config.Config
	store     *bookmarks.Store
	mapping   tagsync.MappingStore
	engine    *tagsync.Engine
	scheduler *tagsync.Scheduler
}

func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	store, err := bookmarks.Open(cfg.BookmarksFile)
	if err != nil {
		return nil, err
	}
	rootID, err := store.EnsureFolderPath(context.Background(), bookmarks.RootID, cfg.RootFolder)
	if err != nil {
		return nil, err
	}
	mapping, err := tagsync.BuildMappingStoreFromDSN(cfg.MappingDSN)
	if err != nil {
		return nil, err
	}
	client := linkding.NewClient(cfg.BaseURL, cfg.Token, &http.Client{Timeout: 15 * time.Second})
	writeDelay := time.Duration(cfg.WriteDelay)
	if writeDelay <= 0 {
		writeDelay = tagsync.DefaultWriteDelay
	}
	engine, err := tagsync.NewEngine(client, store, mapping, tagsync.EngineOptions{
		SyncTag:     cfg.SyncTag,
		LocalRootID: rootID,
		WriteDelay:  writeDelay,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	scheduler := tagsync.NewScheduler(engine, tagsync.SchedulerOptions{
		Debounce: time.Duration(cfg.Debounce),
		Logger:   logger,
	})
	return &app{cfg: cfg, store: store, mapping: mapping, engine: engine, scheduler: scheduler}, nil
}

func newLogger(verbose bool) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "linkding-sync.json"
	}
	return filepath.Join(dir, "linkding-sync", "config.json")
}
