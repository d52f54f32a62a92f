// File: internal/reconciler/diff.go
package reconciler

import "sort"

// Diff partitions the crawled set against the stored lifecycle state.
//
//	New        = crawled \ known       (never tracked before)
//	Missing    = active \ crawled      (was active, not seen)
//	Existing   = crawled ∩ active      (still active and still seen)
//	Reappeared = (crawled ∩ known) \ active
//
// The four partitions are disjoint and together cover crawled ∪ active. Each
// slice is sorted so a run processes ids deterministically.
type Diff struct {
	New        []int64
	Missing    []int64
	Existing   []int64
	Reappeared []int64
}

// ComputeDiff builds the partition from the crawled ids and the per-run
// snapshot of known and active ids.
func ComputeDiff(crawled, active, known map[int64]struct{}) Diff {
	var d Diff

	for id := range crawled {
		_, isKnown := known[id]
		_, isActive := active[id]
		switch {
		case !isKnown:
			d.New = append(d.New, id)
		case isActive:
			d.Existing = append(d.Existing, id)
		default:
			d.Reappeared = append(d.Reappeared, id)
		}
	}
	for id := range active {
		if _, seen := crawled[id]; !seen {
			d.Missing = append(d.Missing, id)
		}
	}

	sortIDs(d.New)
	sortIDs(d.Missing)
	sortIDs(d.Existing)
	sortIDs(d.Reappeared)
	return d
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
