package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/terrane-dev/terrane/pkg/engine"
	"github.com/terrane-dev/terrane/pkg/provider"
)

// decisionSummary is the reportable shape of one planned decision.
type decisionSummary struct {
	URN      provider.URN            `json:"urn"`
	Action   engine.Action           `json:"action"`
	Replaces []string                `json:"replaces,omitempty"`
	Failures []provider.CheckFailure `json:"failures,omitempty"`
}

// planAll plans every goal in the document, in order.
func planAll(ctx context.Context, rec *engine.Reconciler, goals []engine.Goal) ([]*engine.Decision, error) {
	decisions := make([]*engine.Decision, 0, len(goals))
	for _, goal := range goals {
		decision, err := rec.Plan(ctx, goal)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", goal.URN, err)
		}
		decisions = append(decisions, decision)
	}
	return decisions, nil
}

// reportPlan prints the planned decisions and returns the number of
// decisions that would change something, and whether any resource
// failed validation.
func reportPlan(decisions []*engine.Decision) (changes int, failed bool) {
	summaries := make([]decisionSummary, 0, len(decisions))
	for _, d := range decisions {
		s := decisionSummary{
			URN:      d.Goal.URN,
			Action:   d.Action,
			Failures: d.Failures,
		}
		if d.Diff != nil {
			s.Replaces = d.Diff.Replaces
		}
		summaries = append(summaries, s)

		if len(d.Failures) > 0 {
			failed = true
		} else if d.Action != engine.ActionNone {
			changes++
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(summaries)
		return changes, failed
	}

	for _, s := range summaries {
		switch {
		case len(s.Failures) > 0:
			fmt.Printf("  ! %s: invalid inputs\n", s.URN)
			for _, f := range s.Failures {
				fmt.Printf("      %s: %s\n", f.Property, f.Reason)
			}
		case s.Action == engine.ActionNone:
			fmt.Printf("    %s: unchanged\n", s.URN)
		case s.Action == engine.ActionReplace:
			fmt.Printf("  +- %s: replace (%v)\n", s.URN, s.Replaces)
		case s.Action == engine.ActionCreate:
			fmt.Printf("  + %s: create\n", s.URN)
		case s.Action == engine.ActionUpdate:
			fmt.Printf("  ~ %s: update\n", s.URN)
		case s.Action == engine.ActionDelete:
			fmt.Printf("  - %s: delete\n", s.URN)
		}
	}
	fmt.Printf("\n%d of %d resources would change\n", changes, len(decisions))
	return changes, failed
}

// applyAll executes the decisions that change something, at most
// parallelism at a time. Resources in a document are independent, so
// order between them is not significant.
func applyAll(ctx context.Context, rec *engine.Reconciler, decisions []*engine.Decision, parallelism int) error {
	if parallelism <= 0 {
		parallelism = 1
	}

	sem := make(chan struct{}, parallelism)
	errCh := make(chan error, len(decisions))
	var wg sync.WaitGroup

	for _, decision := range decisions {
		if decision.Action == engine.ActionNone && len(decision.Failures) == 0 {
			continue
		}
		wg.Add(1)
		go func(d *engine.Decision) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if _, err := rec.Apply(ctx, d); err != nil {
				errCh <- fmt.Errorf("apply %s: %w", d.Goal.URN, err)
				return
			}
			if !jsonOutput {
				fmt.Printf("  %s: %s done\n", d.Goal.URN, d.Action)
			}
		}(decision)
	}
	wg.Wait()
	close(errCh)

	var firstErr error
	for err := range errCh {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
