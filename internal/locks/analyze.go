package locks

import (
	"github.com/COORDINATOR/internal/types"
)

// PairConflict records two requests that touch the same file where at
// least one is a writer.
type PairConflict struct {
	Path     string    `json:"path"`
	Subtasks [2]int    `json:"subtasks"`
	Locks    [2]string `json:"locks"`
}

// Analysis is the pre-flight conflict report for a batch of planned
// requests.
type Analysis struct {
	HasConflicts   bool           `json:"has_conflicts"`
	CanParallelize bool           `json:"can_parallelize"`
	Conflicts      []PairConflict `json:"conflicts"`
	ParallelGroups [][]int        `json:"parallel_groups"`
}

// DetectPotentialConflicts checks planned requests against each other
// before any locks exist, then greedily packs non-conflicting requests
// into parallel groups. Group membership follows request order: each
// unassigned request starts a group and pulls in every later request
// that conflicts with no group member.
func DetectPotentialConflicts(requests []Request) Analysis {
	type usage struct {
		index    int
		lockType string
	}
	fileUsage := make(map[string][]usage)
	var order []string

	for idx, req := range requests {
		lockType := req.LockType
		if lockType == "" {
			lockType = types.LockRead
		}
		for _, path := range req.Files {
			norm := normalizePath(path)
			if _, seen := fileUsage[norm]; !seen {
				order = append(order, norm)
			}
			fileUsage[norm] = append(fileUsage[norm], usage{index: idx, lockType: lockType})
		}
	}

	var conflicts []PairConflict
	conflictingPairs := make(map[[2]int]struct{})

	for _, path := range order {
		usages := fileUsage[path]
		if len(usages) <= 1 {
			continue
		}
		for i, a := range usages {
			for _, b := range usages[i+1:] {
				if a.lockType != types.LockWrite && b.lockType != types.LockWrite {
					continue
				}
				conflicts = append(conflicts, PairConflict{
					Path:     path,
					Subtasks: [2]int{a.index, b.index},
					Locks:    [2]string{a.lockType, b.lockType},
				})
				lo, hi := a.index, b.index
				if lo > hi {
					lo, hi = hi, lo
				}
				conflictingPairs[[2]int{lo, hi}] = struct{}{}
			}
		}
	}

	assigned := make(map[int]struct{})
	var groups [][]int
	for idx := range requests {
		if _, done := assigned[idx]; done {
			continue
		}
		group := []int{idx}
		assigned[idx] = struct{}{}

		for other := idx + 1; other < len(requests); other++ {
			if _, done := assigned[other]; done {
				continue
			}
			canAdd := true
			for _, member := range group {
				lo, hi := member, other
				if lo > hi {
					lo, hi = hi, lo
				}
				if _, clash := conflictingPairs[[2]int{lo, hi}]; clash {
					canAdd = false
					break
				}
			}
			if canAdd {
				group = append(group, other)
				assigned[other] = struct{}{}
			}
		}
		groups = append(groups, group)
	}

	canParallelize := false
	for _, g := range groups {
		if len(g) > 1 {
			canParallelize = true
			break
		}
	}

	return Analysis{
		HasConflicts:   len(conflicts) > 0,
		CanParallelize: canParallelize,
		Conflicts:      conflicts,
		ParallelGroups: groups,
	}
}
