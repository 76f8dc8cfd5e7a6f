package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecanhq/agentcore/internal/config"
	"github.com/ecanhq/agentcore/internal/embedding"
	"github.com/ecanhq/agentcore/internal/episodic"
	"github.com/ecanhq/agentcore/internal/manager"
	"github.com/ecanhq/agentcore/internal/reflection"
	"github.com/ecanhq/agentcore/internal/vector"
	"github.com/ecanhq/agentcore/internal/webdriver"
)

func factoryOpener(cfg config.Config) manager.FactoryOpener {
	return func(emb embedding.Embedder) (vector.Factory, error) {
		switch cfg.Vector.Backend {
		case "sqlite":
			return vector.NewSQLiteFactory(cfg.VectorDir(), emb)
		default:
			return vector.NewChromemFactory(cfg.VectorDir(), emb)
		}
	}
}

func buildManager(cfg config.Config) (*manager.Manager, error) {
	return manager.New(cfg.Agent.ID, embedding.Config(cfg.Embedding), factoryOpener(cfg), manager.Options{
		CollectionPrefix: cfg.Vector.CollectionPrefix,
	})
}

func buildReflectionEngine(cfg config.Config, store *episodic.Store) *reflection.Engine {
	client, err := reflection.NewClient(reflection.ClientConfig(cfg.LLM))
	if err != nil {
		printWarning("LLM unavailable, reflections fall back to statistics: %v", err)
		client = nil
	}
	return reflection.NewEngine(store, client, cfg.Agent.ID)
}

// --- reflect ---

var reflectCmd = &cobra.Command{
	Use:   "reflect",
	Short: "Generate the daily reflection and store its knowledge",
	Long: `Generate the daily reflection and store its knowledge.

Examples:
  agentcore reflect
  agentcore reflect --date 2024-12-14 --force
  agentcore reflect --backfill-from 2024-12-01 --date 2024-12-14`,
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		force, _ := cmd.Flags().GetBool("force")
		backfillFrom, _ := cmd.Flags().GetString("backfill-from")
		if date == "" {
			date = time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := episodic.NewStore(cfg.EpisodicDir())
		if err != nil {
			return err
		}
		mgr, err := buildManager(cfg)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		defer mgr.Stop(ctx)

		engine := buildReflectionEngine(cfg, store)

		if backfillFrom != "" {
			printStep("Backfilling reflections %s .. %s", backfillFrom, date)
			out, err := engine.Backfill(ctx, backfillFrom, date, force, mgr)
			if err != nil {
				return err
			}
			mgr.Flush(ctx)
			printSuccess("Generated %d reflections", len(out))
			return nil
		}

		printStep("Reflecting on %s", date)
		r, stored, err := engine.Run(ctx, date, force, mgr)
		if err != nil {
			return err
		}
		if r == nil {
			printWarning("No sessions recorded on %s", date)
			return nil
		}
		mgr.Flush(ctx)
		printSuccess("Reflection for %s: %d sessions, %d knowledge chunks stored",
			date, r.TotalSessions, stored)
		for _, lesson := range r.Lessons {
			printStatus("lesson", "%s", lesson)
		}
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show session statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := episodic.NewStore(cfg.EpisodicDir())
		if err != nil {
			return err
		}

		stats, err := store.GetStats(date)
		if err != nil {
			return err
		}
		scope := "all time"
		if date != "" {
			scope = date
		}
		printStatus("scope", "%s", scope)
		printStatus("sessions", "%d (%d ok, %d failed)", stats.TotalSessions, stats.Successful, stats.Failed)
		printStatus("success rate", "%.0f%%", stats.SuccessRate*100)
		printStatus("actions", "%d total, %.1f per session", stats.TotalActions, stats.AvgActionsPerSession)
		printStatus("errors", "%d", stats.TotalErrors)
		return nil
	},
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions for a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		asJSON, _ := cmd.Flags().GetBool("json")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := episodic.NewStore(cfg.EpisodicDir())
		if err != nil {
			return err
		}
		sessions, err := store.LoadSessionsForDate(date)
		if err != nil {
			return err
		}

		if asJSON {
			return json.NewEncoder(os.Stdout).Encode(sessions)
		}
		if len(sessions) == 0 {
			printWarning("No sessions on %s", date)
			return nil
		}
		for _, s := range sessions {
			outcome := "?"
			if s.Succeeded() {
				outcome = colorize(colorGreen, "ok")
			} else if s.Failed() {
				outcome = colorize(colorRed, "failed")
			}
			fmt.Printf("  %s  %-7s  %3d steps  %s\n",
				s.SessionID, outcome, len(s.Actions), s.Task)
		}
		return nil
	},
}

// --- driver ---

var driverCmd = &cobra.Command{
	Use:   "driver",
	Short: "Manage the WebDriver binary",
}

var driverEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Make sure a compatible driver is available, downloading if needed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		mgr, err := webdriver.NewManager(webdriver.ManagerOptions{BaseDir: cfg.WebDriverDir()})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()
		if err := mgr.Initialize(ctx); err != nil {
			return err
		}
		if mgr.GetStatus().Downloading {
			printStep("Downloading driver for Chrome %s", mgr.GetStatus().ChromeVersion)
		}
		path, err := mgr.WebDriverPath(ctx)
		if err != nil {
			return err
		}
		printSuccess("Driver ready: %s", path)
		return nil
	},
}

var driverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show detected Chrome version and cached driver state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		version, platform := webdriver.DetectChrome()
		printStatus("chrome", "%s", version)
		printStatus("platform", "%s", platform)

		cache, err := webdriver.OpenCache(cfg.WebDriverDir() + "/cache")
		if err != nil {
			return err
		}
		if path := cache.Get(version, platform); path != "" {
			printStatus("driver", "%s (cached)", path)
		} else {
			printStatus("driver", "not cached")
		}
		return nil
	},
}

var driverClearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Remove all cached driver binaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cache, err := webdriver.OpenCache(cfg.WebDriverDir() + "/cache")
		if err != nil {
			return err
		}
		cache.ClearAll()
		printSuccess("Driver cache cleared")
		return nil
	},
}

func init() {
	reflectCmd.Flags().String("date", "", "date to reflect on, YYYY-MM-DD (default: yesterday)")
	reflectCmd.Flags().Bool("force", false, "regenerate even if a reflection exists")
	reflectCmd.Flags().String("backfill-from", "", "run reflections from this date through --date")
	statsCmd.Flags().String("date", "", "limit statistics to one date, YYYY-MM-DD")
	sessionsCmd.Flags().String("date", "", "date to list, YYYY-MM-DD (default: today)")
	sessionsCmd.Flags().Bool("json", false, "emit raw JSON")
	driverCmd.AddCommand(driverEnsureCmd)
	driverCmd.AddCommand(driverStatusCmd)
	driverCmd.AddCommand(driverClearCacheCmd)
}
