package search

import (
	"sort"
	"strings"

	"stamprally/api/internal/pin"
)

// noMatch ranks a field the query does not occur in behind every real offset.
const noMatch = 1 << 30

// Rank scans a working set for pins whose title or address contains the
// trimmed, case-folded query. A hit's rank is the smaller of the two match
// offsets, so a match at the start of either field sorts ahead of one buried
// mid-string. Ties keep working-set order. An empty query matches nothing.
func Rank(pins []pin.Pin, query string, limit int) []Result {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return []Result{}
	}

	results := make([]Result, 0, len(pins))
	for _, p := range pins {
		titleOff := fieldOffset(p.Title, needle)
		addrOff := fieldOffset(p.Address, needle)
		rank := titleOff
		if addrOff < rank {
			rank = addrOff
		}
		if rank == noMatch {
			continue
		}
		results = append(results, Result{
			PinID:   p.ID,
			AreaID:  p.AreaID,
			Title:   p.Title,
			Address: p.Address,
			Status:  string(p.Status),
			Rank:    rank,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Rank < results[j].Rank
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func fieldOffset(field, needle string) int {
	if field == "" {
		return noMatch
	}
	idx := strings.Index(strings.ToLower(field), needle)
	if idx < 0 {
		return noMatch
	}
	return idx
}
