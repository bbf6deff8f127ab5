// Package scenario loads a TOML scenario file describing how to run a
// search against a modeled program: which memory model to simulate,
// how deep to search, and what outcome is expected.
package scenario

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gip/dejafu/action"
	"github.com/gip/dejafu/memmodel"
)

// Scenario is the top-level TOML document.
type Scenario struct {
	Scenario Details `toml:""`
}

// Details is the [scenario] table.
type Details struct {
	Name string `toml:",omitempty"`
	// MemoryModel selects the relaxed-memory model to simulate: "sc",
	// "tso" or "pso". Defaults to "sc" when empty.
	MemoryModel string `toml:"memory_model,omitempty"`
	// PreemptionBound caps how many preempting thread switches a single
	// execution may make; negative means unbounded. Defaults to 2.
	PreemptionBound int `toml:"preemption_bound,omitempty"`
	// ExpectedFailure, if set, is matched case-insensitively as a
	// substring against the failure kind's name; an empty string means
	// every execution is expected to succeed.
	ExpectedFailure string `toml:"expected_failure,omitempty"`
	// Workers bounds how many goroutines ParallelSearch may use; <= 0
	// means run the sequential Search instead.
	Workers int `toml:"workers,omitempty"`
}

func parse(r io.Reader) (*Scenario, error) {
	var out Scenario
	if _, err := toml.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("scenario: decode: %w", err)
	}
	if out.Scenario.PreemptionBound == 0 {
		out.Scenario.PreemptionBound = 2
	}
	return &out, nil
}

// Load reads and parses a scenario file from path.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: open %s: %w", path, err)
	}
	defer f.Close()
	return parse(f)
}

// MemType resolves the configured memory model, defaulting to
// SequentialConsistency.
func (s *Scenario) MemType() (memmodel.MemType, error) {
	switch strings.ToLower(s.Scenario.MemoryModel) {
	case "", "sc", "sequentialconsistency":
		return memmodel.SequentialConsistency, nil
	case "tso", "totalstoreorder":
		return memmodel.TotalStoreOrder, nil
	case "pso", "partialstoreorder":
		return memmodel.PartialStoreOrder, nil
	default:
		return 0, fmt.Errorf("scenario: unknown memory_model %q", s.Scenario.MemoryModel)
	}
}

// Matches reports whether an observed failure satisfies this scenario's
// expectation.
func (s *Scenario) Matches(failure action.Failure) bool {
	if s.Scenario.ExpectedFailure == "" {
		return failure == action.NoFailure
	}
	if failure == action.NoFailure {
		return false
	}
	return strings.Contains(strings.ToLower(failure.String()), strings.ToLower(s.Scenario.ExpectedFailure))
}
