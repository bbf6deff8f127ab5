package main

import (
	"fmt"
	"os"

	"github.com/gip/dejafu/action"
	"github.com/gip/dejafu/report"
	"github.com/gip/dejafu/scenario"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var checkProgramFlag string
var checkWorkersOverride int

var checkCmd = &cobra.Command{
	Use:   "check SCENARIOFILE",
	Short: "Run a scenario and exit non-zero if the outcome doesn't match its expected_failure",
	Args:  cobra.ExactArgs(1),
	Run:   checkCommand,
}

func init() {
	checkCmd.Flags().StringVar(&checkProgramFlag, "program", "racing-writes", "built-in modeled program to run")
	checkCmd.Flags().IntVar(&checkWorkersOverride, "workers", 0, "override the scenario's worker count (0 = use scenario)")
}

func checkCommand(cmd *cobra.Command, args []string) {
	path := args[0]

	programFlag = checkProgramFlag
	workersOverride = checkWorkersOverride
	summary := mustSearch(path)

	report.ColorReporter{W: os.Stderr}.Report(summary)

	sc, err := scenario.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load scenario")
	}

	failure := firstFailure(summary)
	if !sc.Matches(failure) {
		fmt.Fprintf(os.Stderr, "scenario expected %q, got %s\n", sc.Scenario.ExpectedFailure, failure)
		os.Exit(1)
	}
}

// firstFailure picks an arbitrary observed failure kind to compare
// against the scenario's expectation; map iteration order doesn't
// matter here because a scenario expecting a specific failure kind
// should only ever observe that one kind across every execution.
func firstFailure(s report.Summary) action.Failure {
	for kind := range s.Failures {
		return kind
	}
	return action.NoFailure
}
