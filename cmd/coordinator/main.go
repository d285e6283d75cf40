// Command coordinator is the CLI for the multi-agent coordinator:
// run coordination strategies, inspect agents and history, score
// queries, and manage self-optimization.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/COORDINATOR/internal/bootstrap"
	"github.com/COORDINATOR/internal/feedback"
	"github.com/COORDINATOR/internal/optimization"
	"github.com/COORDINATOR/internal/orchestrator"
	"github.com/COORDINATOR/internal/registry"
	"github.com/COORDINATOR/internal/scoring"
	"github.com/COORDINATOR/internal/storage"
	"github.com/COORDINATOR/internal/types"
)

// version is set at build time via -ldflags.
var version = "dev"

var cfgPath string

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coordinator",
		Short:         "Self-optimizing multi-agent coordination",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	root.AddCommand(
		newInitCmd(),
		newStrategyCmd("research", orchestrator.StrategyResearch, "Run parallel research with explore agents"),
		newStrategyCmd("implement", orchestrator.StrategyImplement, "Run parallel builders with file locks"),
		newStrategyCmd("review", orchestrator.StrategyReviewBuild, "Run builder and reviewer concurrently"),
		newStrategyCmd("full", orchestrator.StrategyFull, "Run the research, build, review pipeline"),
		newStrategyCmd("team", orchestrator.StrategyTeam, "Run a peer-coordinated opus agent team"),
		newAutoCmd(),
		newStatusCmd(),
		newHistoryCmd(),
		newOptimizeCmd(),
		newScoreCmd(),
		newServeCmd(),
	)
	return root
}

func loadConfig() (*types.Config, error) {
	path := cfgPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".coordinator", "config.yaml")
	}
	return types.LoadConfig(path)
}

func openStore() (*storage.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.DataDir)
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the coordinator data directory and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := storage.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Printf("Coordinator initialized at %s\n", cfg.DataDir)
			fmt.Printf("  Database: %s\n", filepath.Join(cfg.DataDir, "data", "coordinator.db"))
			fmt.Printf("  Config:   %s\n", filepath.Join(cfg.DataDir, "config.yaml"))
			return nil
		},
	}
}

func newStrategyCmd(name, strategy, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <task>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s: %s\n", titleCase(name), args[0])
			return runCoordination(args[0], strategy)
		},
	}
}

func newAutoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auto <task>",
		Short: "Detect the task pattern and select the optimal strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := args[0]

			db, err := openStore()
			if err != nil {
				return err
			}
			pattern := optimization.NewPatternDetector(db).Detect(task)
			scorer := scoring.NewScorer(scoring.LoadBaselines(db.BaselinesPath()), scoring.NewDBRecorder(db))
			result := scorer.Score(task)
			db.Close()

			fmt.Printf("Pattern: %s (%.0f%% confidence)\n", pattern.Pattern, pattern.Confidence*100)
			fmt.Printf("Strategy: %s\n", pattern.SuggestedStrategy)
			fmt.Printf("DQ Score: %.3f -> %s (complexity: %.2f)\n",
				result.DQ.Score, result.Model, result.Complexity)

			switch {
			case pattern.Confidence >= 0.8:
				fmt.Printf("\nAuto-selecting: %s\n", pattern.SuggestedStrategy)
				return runCoordination(task, pattern.SuggestedStrategy)
			case pattern.Confidence >= 0.5:
				fmt.Printf("\nSuggested: coordinator %s %q\n", pattern.SuggestedStrategy, task)
				return nil
			default:
				fmt.Println("\nLow confidence, defaulting to implement strategy")
				return runCoordination(task, orchestrator.StrategyImplement)
			}
		},
	}
}

// runCoordination builds the full runtime and runs one session in the
// foreground.
func runCoordination(task, strategy string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := bootstrap.Build(bootstrap.Options{
		Config:  cfg,
		Confirm: confirmCost,
		Version: version,
	})
	if err != nil {
		return err
	}
	defer rt.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := rt.Orchestrator.Coordinate(ctx, task, strategy)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

// confirmCost is the interactive gate for sessions whose estimate
// crosses the confirmation threshold.
func confirmCost(summary orchestrator.CostSummary) bool {
	fmt.Printf("Estimated cost $%.2f for %d agent(s). Proceed? [y/N]: ",
		summary.Total, summary.AgentCount)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printResult(result types.CoordinationResult) {
	fmt.Printf("\nStatus: %s\n", result.Status)
	fmt.Printf("Strategy: %s\n", result.Strategy)
	fmt.Printf("Duration: %.1fs\n", result.DurationSeconds)
	fmt.Printf("Agents: %d\n", len(result.AgentResults))
	fmt.Printf("Cost: $%.4f\n", result.TotalCost)

	if len(result.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show active agents and their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			reg := registry.New(db)
			active, err := reg.Active()
			if err != nil {
				return err
			}
			if len(active) == 0 {
				fmt.Println("No active agents.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AGENT ID\tTASK\tMODEL\tSTATE\tPROGRESS")
			for _, agent := range active {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f%%\n",
					agent.AgentID, truncate(agent.Subtask, 40),
					agent.Model, agent.State, agent.Progress*100)
			}
			w.Flush()

			stats, err := reg.GetStats()
			if err != nil {
				return err
			}
			fmt.Printf("\nTotal: %d agents | Active: %d | Cost: $%.4f\n",
				stats.TotalAgents, stats.ActiveCount, stats.TotalCostEstimate)
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent session outcomes with DQ scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			rows, err := db.Conn().Query(`
				SELECT session_id, outcome, quality, complexity, dq_score, analyzed_at
				FROM outcomes ORDER BY analyzed_at DESC LIMIT ?`, limit)
			if err != nil {
				return err
			}
			defer rows.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			count := 0
			for rows.Next() {
				var sessionID, outcome, analyzedAt string
				var quality, complexity, dq float64
				if err := rows.Scan(&sessionID, &outcome, &quality, &complexity, &dq, &analyzedAt); err != nil {
					return err
				}
				if count == 0 {
					fmt.Fprintln(w, "SESSION\tOUTCOME\tQUALITY\tCOMPLEXITY\tDQ SCORE\tDATE")
				}
				fmt.Fprintf(w, "%s\t%s\t%.1f\t%.2f\t%.3f\t%s\n",
					truncate(sessionID, 16), outcome, quality, complexity, dq,
					truncate(analyzedAt, 16))
				count++
			}
			if err := rows.Err(); err != nil {
				return err
			}
			if count == 0 {
				fmt.Println("No session history yet. Run a coordination task first.")
				return nil
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries to show")
	return cmd
}

func newOptimizeCmd() *cobra.Command {
	var dryRun, apply bool
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Propose or apply self-optimization baseline updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dryRun && !apply {
				fmt.Println("Use --dry-run to see proposals or --apply to apply them.")
				return nil
			}

			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			optimizer := feedback.NewOptimizer(db)
			proposals, err := optimizer.Propose()
			if err != nil {
				return err
			}
			if len(proposals) == 0 {
				fmt.Println("No optimization proposals yet. Need 50+ sessions.")
				return nil
			}

			if dryRun {
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "PARAMETER\tCURRENT\tPROPOSED\tCONFIDENCE\tIMPROVEMENT\tEVIDENCE")
				for _, p := range proposals {
					fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%.0f%%\t+%.1f%%\t%d\n",
						p.Parameter, p.CurrentValue, p.ProposedValue,
						p.Confidence*100, p.ImprovementPct, p.EvidenceCount)
				}
				w.Flush()
				return nil
			}

			if err := optimizer.Apply(proposals); err != nil {
				return err
			}
			fmt.Printf("Applied %d optimization(s).\n", len(proposals))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show proposed changes without applying")
	cmd.Flags().BoolVar(&apply, "apply", false, "apply validated improvements")
	return cmd
}

func newScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <query>",
		Short: "Score a query and show the routing decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			scorer := scoring.NewScorer(scoring.LoadBaselines(db.BaselinesPath()), scoring.NewDBRecorder(db))
			result := scorer.Score(args[0])

			fmt.Printf("Query: %s\n", result.Query)
			fmt.Printf("Complexity: %.3f\n", result.Complexity)
			fmt.Printf("Model: %s\n", result.Model)
			if result.ThinkingEffort != "" {
				fmt.Printf("Thinking: %s\n", result.ThinkingEffort)
			}
			fmt.Printf("DQ Score: %.3f (V:%.2f S:%.2f C:%.2f)\n",
				result.DQ.Score,
				result.DQ.Components.Validity,
				result.DQ.Components.Specificity,
				result.DQ.Components.Correctness)
			fmt.Printf("Cost est: $%.6f\n", result.CostEstimate)
			fmt.Printf("Reasoning: %s\n", result.Reasoning)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	var host string
	var port int
	var withNATS bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator HTTP API in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			if withNATS {
				cfg.NATS.Enabled = true
			}

			rt, err := bootstrap.Build(bootstrap.Options{Config: cfg, Version: version})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			serverErr := make(chan error, 1)
			go func() {
				serverErr <- rt.Server.Start(rt.Addr())
			}()

			select {
			case err := <-serverErr:
				rt.Shutdown(context.Background())
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			rt.Shutdown(shutdownCtx)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	cmd.Flags().BoolVar(&withNATS, "nats", false, "enable NATS event transport")
	return cmd
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
