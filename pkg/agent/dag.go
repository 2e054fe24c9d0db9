package agent

import (
	"fmt"
	"sort"

	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

// callStatus tracks a call's resolution state for one iteration's dependency
// DAG, separate from the tree's own GadgetStatus (which records the
// externally-visible lifecycle); "immediate" failures (bad parse, unknown
// gadget, unknown dependency, cycle) never execute — on the tree they are
// started and completed as failed at once, with nothing run in between.
type callStatus int

const (
	callPending callStatus = iota
	callReady
	callSucceeded
	callFailed
	callSkipped
)

// resolvedCall pairs a parsed call with its DAG bookkeeping.
type resolvedCall struct {
	call       models.GadgetCall
	status     callStatus
	result     string
	errMessage string
	skipDepID  string

	// skipRecorded guards against writing the same pending->skipped tree
	// transition twice when dispatchCalls sweeps the resolved list more
	// than once (see Loop.recordSkips).
	skipRecorded bool
}

// resultAndError renders the text fed back to the model as this call's
// "Result (invocationId): ..." body, per spec.md §4.E/§7.
func (rc *resolvedCall) resultAndError() (result, errText string) {
	switch rc.status {
	case callSucceeded:
		return rc.result, ""
	case callSkipped:
		return "", fmt.Sprintf("skipped: dependency %q failed or was skipped", rc.skipDepID)
	default:
		return "", rc.errMessage
	}
}

// buildDAG validates the call list's dependency references, detecting
// unknown dependencies and cycles per spec.md §4.F step 5, and returns one
// resolvedCall per input call in original order. Calls with an existing
// ParseError (from the parser) or an unregistered gadget name are marked
// callFailed immediately; everything else starts callPending.
func buildDAG(calls []models.GadgetCall, knownGadget func(name string) bool) []*resolvedCall {
	byID := make(map[string]*resolvedCall, len(calls))
	resolved := make([]*resolvedCall, len(calls))
	for i, c := range calls {
		rc := &resolvedCall{call: c, status: callPending}
		resolved[i] = rc
		if rc.call.InvocationID != "" {
			byID[rc.call.InvocationID] = rc
		}
	}

	for _, rc := range resolved {
		if rc.call.ParseError != nil {
			rc.status = callFailed
			rc.errMessage = rc.call.ParseError.Error()
			continue
		}
		if !knownGadget(rc.call.GadgetName) {
			rc.status = callFailed
			rc.errMessage = fmt.Sprintf("unknown gadget %q", rc.call.GadgetName)
			rc.call.ParseError = &models.CallParseError{
				Kind:    models.ParseErrUnknownGadget,
				Message: rc.errMessage,
			}
			continue
		}
		for _, dep := range rc.call.Dependencies {
			if _, ok := byID[dep]; !ok {
				rc.status = callFailed
				rc.errMessage = fmt.Sprintf("unknown dependency %q", dep)
				rc.call.ParseError = &models.CallParseError{
					Kind:    models.ParseErrUnknownDependency,
					Message: rc.errMessage,
				}
				break
			}
		}
	}

	markCycles(resolved, byID)
	return resolved
}

// markCycles runs DFS cycle detection over pending calls' dependency edges
// and marks every call participating in a cycle as callFailed with a
// dependency-cycle parseError.
func markCycles(resolved []*resolvedCall, byID map[string]*resolvedCall) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[*resolvedCall]int, len(resolved))
	var inCycle []*resolvedCall

	var visit func(rc *resolvedCall, stack []*resolvedCall) bool
	visit = func(rc *resolvedCall, stack []*resolvedCall) bool {
		if rc.status == callFailed {
			return false
		}
		color[rc] = gray
		stack = append(stack, rc)
		for _, dep := range rc.call.Dependencies {
			depRC, ok := byID[dep]
			if !ok || depRC.status == callFailed {
				continue
			}
			switch color[depRC] {
			case gray:
				// depRC is an ancestor on the current path: stack[idx:] is
				// exactly the cycle (depRC through rc), not the whole path
				// from the DFS root — any earlier, non-cyclic dependents
				// of depRC are left callPending here and resolve through
				// nextWave's cascading skip instead.
				for idx, s := range stack {
					if s == depRC {
						inCycle = append(inCycle, stack[idx:]...)
						break
					}
				}
				return true
			case white:
				if visit(depRC, stack) {
					return true
				}
			}
		}
		color[rc] = black
		return false
	}

	for _, rc := range resolved {
		if rc.status == callFailed {
			continue
		}
		if color[rc] == white {
			visit(rc, nil)
		}
	}

	seen := make(map[*resolvedCall]bool)
	for _, rc := range inCycle {
		if seen[rc] {
			continue
		}
		seen[rc] = true
		rc.status = callFailed
		rc.errMessage = "dependency cycle detected"
		rc.call.ParseError = &models.CallParseError{
			Kind:    models.ParseErrDependencyCycle,
			Message: rc.errMessage,
		}
	}
}

// nextWave returns the callPending entries all of whose dependencies have
// resolved (succeeded, failed, or skipped), transitioning callPending
// entries whose dependencies include a failed/skipped one directly to
// callSkipped instead of including them in the wave. Order is by
// InvocationID for determinism across runs.
func nextWave(byID map[string]*resolvedCall, resolved []*resolvedCall) []*resolvedCall {
	var wave []*resolvedCall
	for _, rc := range resolved {
		if rc.status != callPending {
			continue
		}
		allResolved := true
		skippedDueTo := ""
		for _, dep := range rc.call.Dependencies {
			depRC := byID[dep]
			switch depRC.status {
			case callFailed, callSkipped:
				skippedDueTo = dep
			case callSucceeded:
				// satisfied
			default:
				allResolved = false
			}
		}
		if skippedDueTo != "" {
			rc.status = callSkipped
			rc.skipDepID = skippedDueTo
			continue
		}
		if allResolved {
			wave = append(wave, rc)
		}
	}
	sort.Slice(wave, func(i, j int) bool {
		return wave[i].call.InvocationID < wave[j].call.InvocationID
	})
	return wave
}

func indexByID(resolved []*resolvedCall) map[string]*resolvedCall {
	byID := make(map[string]*resolvedCall, len(resolved))
	for _, rc := range resolved {
		if rc.call.InvocationID != "" {
			byID[rc.call.InvocationID] = rc
		}
	}
	return byID
}
