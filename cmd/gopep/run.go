package main

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/perfest/gopep/examples"
	"github.com/perfest/gopep/internal/store"
)

var (
	runN       int
	runGamma   float64
	runL       float64
	runDimRed  string
	runVerbose bool
	runSave    bool
	runDataDir string
)

var runCmd = &cobra.Command{
	Use:   "run <study>",
	Short: "Run a built-in worst-case study",
	Long: `Solves the performance-estimation problem of a built-in study and prints
the computed worst-case bound next to the known closed-form rate. Use
"gopep list" to see the available studies.`,
	Args: cobra.ExactArgs(1),
	RunE: runStudy,
}

func init() {
	runCmd.Flags().IntVar(&runN, "n", 0, "Number of iterations (0 = study default)")
	runCmd.Flags().Float64Var(&runGamma, "gamma", 0, "Step size (0 = study default)")
	runCmd.Flags().Float64Var(&runL, "l", 0, "Smoothness or Lipschitz constant (0 = study default)")
	runCmd.Flags().StringVar(&runDimRed, "dimred", "", `Dimension-reduction heuristic: "trace" or "logdetN" ("" = study default)`)
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Log solver progress")
	runCmd.Flags().BoolVar(&runSave, "save", false, "Persist the run report under the data directory")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "./data", "Base directory for report storage")

	rootCmd.AddCommand(runCmd)
}

func runStudy(cmd *cobra.Command, args []string) error {
	entry, err := examples.Find(args[0])
	if err != nil {
		return err
	}

	params := entry.Defaults
	if runN > 0 {
		params.N = runN
	}
	if runGamma > 0 {
		params.Gamma = runGamma
	}
	if runL > 0 {
		params.L = runL
	}
	if cmd.Flags().Changed("dimred") {
		params.DimensionReduction = runDimRed
	}
	params.Verbose = runVerbose
	params.Logger = logger

	runID := uuid.New().String()
	slog.Info("Starting study", "study", entry.Name, "runID", runID,
		"n", params.N, "gamma", params.Gamma, "l", params.L,
		"dimred", params.DimensionReduction)

	start := time.Now()
	outcome, err := entry.Run(params)
	if err != nil {
		return fmt.Errorf("failed to run study %s: %w", entry.Name, err)
	}
	elapsed := time.Since(start)

	slog.Info("Study complete",
		"elapsed", elapsed,
		"worst_case", outcome.WorstCase,
		"status", outcome.Result.Status.String(),
		"iterations", outcome.Result.Iterations,
		"dimension", outcome.Result.Dimension,
	)

	fmt.Printf("%s (n=%d): worst-case = %.6g", entry.Name, params.N, outcome.WorstCase)
	if outcome.HasTheory {
		gap := math.Abs(outcome.WorstCase - outcome.Theory)
		fmt.Printf(", theory = %.6g (abs diff %.2e)", outcome.Theory, gap)
	}
	fmt.Printf(" [%s, dim %d, %s]\n", outcome.Result.Status, outcome.Result.Dimension, elapsed.Round(time.Millisecond))

	if !runSave {
		return nil
	}
	return saveRun(runID, entry.Name, params, outcome)
}

func saveRun(runID, study string, params examples.Params, outcome *examples.Outcome) error {
	st, err := store.NewFSStore(runDataDir)
	if err != nil {
		return fmt.Errorf("failed to open report store: %w", err)
	}

	report := &store.Report{
		RunID: runID,
		Config: store.RunConfig{
			Study:              study,
			N:                  params.N,
			Gamma:              params.Gamma,
			L:                  params.L,
			DimensionReduction: params.DimensionReduction,
		},
		WorstCase:  outcome.WorstCase,
		Theory:     outcome.Theory,
		HasTheory:  outcome.HasTheory,
		Status:     outcome.Result.Status.String(),
		Iterations: outcome.Result.Iterations,
		Gap:        outcome.Result.Gap,
		Dimension:  outcome.Result.Dimension,
		Example:    outcome.Example,
		CreatedAt:  time.Now(),
	}
	if err := report.Validate(); err != nil {
		return fmt.Errorf("refusing to save malformed report: %w", err)
	}
	if err := st.SaveReport(runID, report); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	if len(outcome.Result.Passes) > 0 {
		tw, err := store.NewTraceWriter(runDataDir, runID, false)
		if err != nil {
			return fmt.Errorf("failed to open reduction trace: %w", err)
		}
		for _, pass := range outcome.Result.Passes {
			entry := store.TraceEntry{
				Pass:      pass.Pass,
				Dimension: pass.Dimension,
				WorstCase: pass.WorstCase,
				Timestamp: time.Now(),
			}
			if err := tw.Write(entry); err != nil {
				tw.Close()
				return fmt.Errorf("failed to write reduction trace: %w", err)
			}
		}
		if err := tw.Close(); err != nil {
			return fmt.Errorf("failed to close reduction trace: %w", err)
		}
	}

	slog.Info("Report saved", "runID", runID, "dataDir", runDataDir)
	fmt.Printf("Saved report %s\n", runID)
	return nil
}
