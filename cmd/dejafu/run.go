package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/gip/dejafu/engine"
	"github.com/gip/dejafu/por"
	"github.com/gip/dejafu/report"
	"github.com/gip/dejafu/scenario"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	programFlag     string
	cpuProfile      string
	memProfile      string
	plainFlag       bool
	workersOverride int
)

var runCmd = &cobra.Command{
	Use:   "run SCENARIOFILE",
	Short: "Search every interleaving a scenario describes and report what was found",
	Args:  cobra.ExactArgs(1),
	Run:   runCommand,
}

func init() {
	runCmd.Flags().StringVar(&programFlag, "program", "racing-writes", "built-in modeled program to run")
	runCmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "write CPU profile to specified file")
	runCmd.Flags().StringVar(&memProfile, "memprofile", "", "write memory profile to specified file")
	runCmd.Flags().BoolVar(&plainFlag, "plain", false, "use uncoloured output")
	runCmd.Flags().IntVar(&workersOverride, "workers", 0, "override the scenario's worker count (0 = use scenario)")
}

func runCommand(cmd *cobra.Command, args []string) {
	summary := mustSearch(args[0])

	var rep report.Reporter = report.ColorReporter{W: os.Stderr}
	if plainFlag {
		rep = report.PlainReporter{}
	}
	rep.Report(summary)
}

// mustSearch loads the scenario at path, resolves its program and runs
// the search it describes, exiting the process on any setup error.
func mustSearch(path string) report.Summary {
	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("could not create CPU profile file")
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}
	if memProfile != "" {
		defer func() {
			f, err := os.Create(memProfile)
			if err != nil {
				log.Fatal().Err(err).Msg("could not create memory profile file")
			}
			defer f.Close()
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.Fatal().Err(err).Msg("could not write memory profile")
			}
		}()
	}

	sc, err := scenario.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load scenario")
	}
	memtype, err := sc.MemType()
	if err != nil {
		log.Fatal().Err(err).Msg("could not resolve memory model")
	}
	build, err := lookupProgram(programFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("could not resolve program")
	}

	bound := por.Bound{PreemptionBound: sc.Scenario.PreemptionBound}
	workers := sc.Scenario.Workers
	if workersOverride > 0 {
		workers = workersOverride
	}

	fmt.Fprintf(os.Stderr, "running %q under %s (preemption bound %d)\n", programFlag, memtype, bound.PreemptionBound)

	var rpt por.Report
	if workers > 0 {
		rpt = por.ParallelSearch(build, memtype, bound, workers)
	} else {
		rpt = por.Search(build, memtype, bound)
	}

	fmt.Fprintf(os.Stderr, "explored %d execution(s), pruned %d candidate(s)\n", len(rpt.Executions), rpt.Pruned)

	return report.Summarize(resultsOf(rpt))
}

func resultsOf(rpt por.Report) []engine.Result {
	out := make([]engine.Result, len(rpt.Executions))
	for i, e := range rpt.Executions {
		out[i] = e.Result
	}
	return out
}
