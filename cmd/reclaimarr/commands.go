package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/amaumene/reclaimarr/internal/api"
	"github.com/amaumene/reclaimarr/internal/controllers"
	"github.com/amaumene/reclaimarr/internal/models"
	"github.com/amaumene/reclaimarr/internal/scheduler"
	"github.com/amaumene/reclaimarr/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// version is set at build time via ldflags
var version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "reclaimarr",
		Short:         "Media library catalog and retention cleanup",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.AddCommand(
		newServeCmd(),
		newSyncCmd(),
		newWatchSyncCmd(),
		newScanCmd(),
		newPurgeCmd(),
	)
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	// 6. Initialize scheduler
	sched := scheduler.NewScheduler(a.syncCtrl, a.watchCtrl, a.cfg.PlexToken, a.logger)
	if err := sched.Start(a.cfg.LibrarySyncSchedule, a.cfg.WatchSyncSchedule); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// 7. Initialize HTTP server
	server := api.NewServer(a.cfg, a.db, api.Controllers{
		Sync:      a.syncCtrl,
		Resolver:  a.resolver,
		Evaluator: a.evaluator,
		Cleanup:   a.cleanup,
	}, a.logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErrChan <- err
		}
	}()

	// 8. Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	a.logger.Info("Reclaimarr is running")

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		a.logger.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
		if err := server.Shutdown(context.Background()); err != nil {
			a.logger.WithError(err).Error("Error during server shutdown")
		}
	}

	a.logger.Info("Reclaimarr stopped")
	return nil
}

func newSyncCmd() *cobra.Command {
	var every int
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one library sync; interrupt to cancel",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			// The first interrupt cancels between items, a second one aborts requests
			token := controllers.NewCancelToken()
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				sigChan := make(chan os.Signal, 2)
				signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(sigChan)
				select {
				case <-sigChan:
					a.logger.Warn("Cancelling sync after the current item")
					token.Cancel()
				case <-ctx.Done():
					return
				}
				select {
				case <-sigChan:
					cancel()
				case <-ctx.Done():
				}
			}()

			summary, err := a.syncCtrl.Run(ctx, a.cfg.PlexToken, controllers.NewLogSink(a.logger, every), token)
			if err != nil {
				return err
			}

			p := message.NewPrinter(language.English)
			p.Printf("%s: %d synced, %d created, %d failed, %d orphans removed in %.1fs\n",
				summary.Status, summary.ItemsSynced, summary.ItemsCreated, summary.ItemsFailed,
				summary.OrphansRemoved, summary.DurationSeconds)
			return nil
		},
	}
	cmd.Flags().IntVar(&every, "log-every", 100, "log one progress line every n items")
	return cmd
}

func newWatchSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch-sync",
		Short: "Fold the Tautulli watch history into the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if a.watchCtrl == nil {
				return errors.New("TAUTULLI_URL and TAUTULLI_API_KEY are required")
			}

			summary, err := a.watchCtrl.SyncWatchHistory(cmd.Context())
			if err != nil {
				return err
			}

			p := message.NewPrinter(language.English)
			p.Printf("%d plays over %d items, %d catalog rows updated, %d unmatched\n",
				summary.Records, summary.Keys, summary.Updated, summary.Unmatched)
			return nil
		},
	}
}

func newScanCmd() *cobra.Command {
	var ruleID uint64
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List the deletion candidates of a retention rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			rule, err := pickRule(a.db, ruleID)
			if err != nil {
				return err
			}

			candidates, err := a.evaluator.Evaluate(rule, time.Now())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tTYPE\tSIZE\tADDED\tINACTIVE\tPLAYS")
			var total int64
			for _, c := range candidates {
				total += c.Item.FileSize
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%dd\t%dd\t%d\n",
					c.Item.ID, c.Item.DisplayTitle(), c.Item.MediaType, utils.FormatBytes(c.Item.FileSize),
					c.DaysSinceAdded, c.DaysSinceActivity, c.ViewCount)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			p := message.NewPrinter(language.English)
			p.Printf("\nRule %q: %d candidates, %s reclaimable\n", rule.Name, len(candidates), utils.FormatBytes(total))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&ruleID, "rule", 0, "rule id (default: first enabled rule)")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	var (
		ruleID  uint64
		execute bool
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete the candidates of a retention rule across every service",
		Long:  "Evaluates a retention rule and runs the cascade deletion over its candidates. Without --execute nothing is deleted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			rule, err := pickRule(a.db, ruleID)
			if err != nil {
				return err
			}

			summary, err := a.cleanup.ExecuteBatch(cmd.Context(), rule.ID, nil, !execute)
			if err != nil {
				return err
			}

			for _, item := range summary.Items {
				status := string(item.Status)
				if item.Skipped {
					status = "skipped"
				}
				fmt.Printf("%-10s %s %s\n", status, item.Title, item.Error)
			}

			verb := "deleted"
			if summary.DryRun {
				verb = "would delete"
			}
			p := message.NewPrinter(language.English)
			p.Printf("\n%s %d of %d items (%d failed, %d skipped), %s\n",
				verb, summary.Deleted, summary.Total, summary.Failed, summary.Skipped, utils.FormatBytes(summary.TotalSize))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&ruleID, "rule", 0, "rule id (default: first enabled rule)")
	cmd.Flags().BoolVar(&execute, "execute", false, "really delete; the default is a dry run")
	return cmd
}

// pickRule loads a rule by id, or the first enabled rule when id is 0
func pickRule(db *models.Database, id uint64) (*models.RetentionRule, error) {
	if id != 0 {
		rule, err := db.GetRule(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load rule %d: %w", id, err)
		}
		return rule, nil
	}

	rules, err := db.ListRules()
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	for _, rule := range rules {
		if rule.Enabled {
			return rule, nil
		}
	}
	return nil, errors.New("no enabled retention rule")
}
