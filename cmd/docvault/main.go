package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/docvault/docvault/internal/backup"
	"github.com/docvault/docvault/internal/config"
	"github.com/docvault/docvault/internal/database"
	"github.com/docvault/docvault/internal/docker"
	"github.com/docvault/docvault/internal/logging"
	"github.com/docvault/docvault/internal/retention"
	"github.com/docvault/docvault/internal/state"
	"github.com/docvault/docvault/internal/storage"
)

var version = "0.2.0"

// Exit codes: 0 full success, 1 fatal error, 2 partial failure. Cron
// wrappers alert differently on the last two.
const exitPartial = 2

func main() {
	rootCmd := &cobra.Command{
		Use:     "docvault",
		Short:   "Offsite document and database backups over a metered link",
		Version: version,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(pruneCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string
	var full, sync, dbOnly, yes bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one backup cycle (mode auto-decided unless overridden)",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := modeOverride(full, sync, dbOnly)
			if err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel)

			provider, err := buildProvider(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			exporter, cleanup, err := buildExporter(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			engine := backup.NewEngine(cfg, provider, exporter, logger)
			rec, err := engine.Run(cmd.Context(), backup.Options{
				Mode:    mode,
				Confirm: yes,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Run %s finished: %s (%d added, %d updated, %d deleted, %d failed, %d deferred, %d bytes)\n",
				rec.ID, rec.Outcome, rec.Added, rec.Updated, rec.Deleted, rec.Failed, rec.Deferred, rec.BytesTransferred)

			if rec.Outcome == state.OutcomePartial {
				os.Exit(exitPartial)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (default: "+config.DefaultPath()+")")
	cmd.Flags().BoolVar(&full, "full", false, "Force a full backup")
	cmd.Flags().BoolVar(&sync, "sync", false, "Force an incremental sync")
	cmd.Flags().BoolVar(&dbOnly, "db-only", false, "Back up only the database")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Execute high-risk plans without confirmation")
	return cmd
}

func planCmd() *cobra.Command {
	var configPath string
	var full bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what the next run would transfer, without executing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel)

			provider, err := buildProvider(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			engine := backup.NewEngine(cfg, provider, nil, logger)
			preview, err := engine.BuildPreview(cmd.Context(), full)
			if err != nil {
				return err
			}

			fmt.Printf("Plan: %s\n", preview.Plan)
			fmt.Printf("Projected full backup: %d bytes, remaining quota: %d bytes\n",
				preview.ProjectedFullBytes, preview.RemainingQuota)
			if preview.ScanErrors > 0 {
				fmt.Printf("Warning: %d unreadable items excluded\n", preview.ScanErrors)
			}
			if preview.HighRisk != nil {
				fmt.Printf("High-risk: %v\n", preview.HighRisk)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path")
	cmd.Flags().BoolVar(&full, "full", false, "Preview a full backup plan")
	return cmd
}

func historyCmd() *cobra.Command {
	var configPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent backup runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			st, err := state.Load(cfg.StatePath)
			if err != nil {
				return err
			}

			runs := st.Runs
			if limit > 0 && len(runs) > limit {
				runs = runs[len(runs)-limit:]
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded")
				return nil
			}

			for _, r := range runs {
				outcome := string(r.Outcome)
				if !r.Finalized() {
					outcome = "in progress"
				}
				fmt.Printf("%s  %s  %-7s  %-15s  +%d ~%d -%d !%d ?%d  %d bytes\n",
					r.StartedAt.Format(time.RFC3339), shortID(r.ID), r.Mode, outcome,
					r.Added, r.Updated, r.Deleted, r.Failed, r.Deferred, r.BytesTransferred)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func pruneCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune old database artifacts per the retention policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel)

			provider, err := buildProvider(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			manager := &retention.Manager{
				Provider:    provider,
				Prefix:      cfg.Storage.DBPrefix,
				Generations: cfg.Retention.Generations,
				Logger:      logger,
			}
			deleted, err := manager.Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d artifact(s)\n", len(deleted))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path")
	return cmd
}

// shortID abbreviates a run id for display; hand-edited state files may
// carry ids shorter than the uuid the engine writes.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func modeOverride(full, sync, dbOnly bool) (state.Mode, error) {
	set := 0
	for _, b := range []bool{full, sync, dbOnly} {
		if b {
			set++
		}
	}
	if set > 1 {
		return "", fmt.Errorf("--full, --sync and --db-only are mutually exclusive")
	}
	switch {
	case full:
		return state.ModeFull, nil
	case sync:
		return state.ModeSync, nil
	case dbOnly:
		return state.ModeDBOnly, nil
	}
	return "", nil
}

func buildProvider(ctx context.Context, cfg *config.Config) (storage.Provider, error) {
	s3p, err := storage.NewS3Provider(ctx,
		cfg.Storage.Bucket,
		cfg.Storage.Region,
		cfg.Storage.Endpoint,
		cfg.Storage.AccessKey,
		cfg.Storage.SecretKey,
	)
	if err != nil {
		return nil, err
	}

	retryCfg := storage.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.Transfer.RetryAttempts
	return storage.NewRetryingProvider(s3p, retryCfg), nil
}

func buildExporter(cfg *config.Config) (database.Exporter, func(), error) {
	if cfg.Database.Mode == config.DatabaseDocker {
		client, err := docker.NewClient()
		if err != nil {
			return nil, nil, err
		}
		exporter := &database.DockerExporter{
			Client:    client,
			Container: cfg.Database.Container,
			DBName:    cfg.Database.Name,
			User:      cfg.Database.User,
		}
		return exporter, func() { client.Close() }, nil
	}

	exporter := &database.CommandExporter{
		DBName:   cfg.Database.Name,
		User:     cfg.Database.User,
		Host:     cfg.Database.Host,
		PassFile: cfg.Database.PassFile,
	}
	return exporter, func() {}, nil
}
