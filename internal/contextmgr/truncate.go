package contextmgr

import (
	"fmt"

	"github.com/nexus3/nexus3/internal/tokens"
)

// Strategy names accepted in config. Anything else is a startup error.
const (
	StrategyOldestFirst = "oldest_first"
	StrategyMiddleOut   = "middle_out"
)

// truncate reduces groups until their total fits within available,
// using the configured strategy. Groups are the atomic unit; a group
// that does not fit is dropped whole.
func truncate(strategy string, c tokens.Counter, groups []group, available int, recentPreserve int) ([]group, error) {
	switch strategy {
	case StrategyOldestFirst:
		return truncateOldestFirst(c, groups, available), nil
	case StrategyMiddleOut:
		return truncateMiddleOut(c, groups, available, recentPreserve), nil
	}
	return nil, fmt.Errorf("unknown truncation strategy %q", strategy)
}

// truncateOldestFirst drops eldest groups until the remainder fits.
func truncateOldestFirst(c tokens.Counter, groups []group, available int) []group {
	total := 0
	costs := make([]int, len(groups))
	for i, g := range groups {
		costs[i] = groupTokens(c, g)
		total += costs[i]
	}
	start := 0
	for start < len(groups) && total > available {
		total -= costs[start]
		start++
	}
	return groups[start:]
}

// truncateMiddleOut keeps the first group and the newest groups
// spanning at least recentPreserve tokens, then fills backward from the
// tail while the budget allows. The middle is dropped.
func truncateMiddleOut(c tokens.Counter, groups []group, available int, recentPreserve int) []group {
	if len(groups) <= 2 {
		return truncateOldestFirst(c, groups, available)
	}

	costs := make([]int, len(groups))
	total := 0
	for i, g := range groups {
		costs[i] = groupTokens(c, g)
		total += costs[i]
	}
	if total <= available {
		return groups
	}

	headCost := costs[0]

	// Tail must span at least recentPreserve tokens.
	tailStart := len(groups)
	tailCost := 0
	for tailStart > 1 && tailCost < recentPreserve {
		tailStart--
		tailCost += costs[tailStart]
	}

	// Extend the tail backward while head+tail still fits.
	for tailStart > 1 && headCost+tailCost+costs[tailStart-1] <= available {
		tailStart--
		tailCost += costs[tailStart]
	}

	kept := make([]group, 0, 1+len(groups)-tailStart)
	kept = append(kept, groups[0])
	kept = append(kept, groups[tailStart:]...)

	// The mandatory tail may still overflow; fall back to dropping from
	// the front of what remains.
	if headCost+tailCost > available {
		kept = truncateOldestFirst(c, kept, available)
	}
	return kept
}
