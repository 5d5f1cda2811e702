// Package scoring implements the incremental score-computation engine
// (design §4.2): it keeps every OwnIdentity's derived Score rows
// consistent with the Trust graph, inside the same transaction as the
// trust change that triggered the recompute.
package scoring

import "strconv"

// CapacityTable maps a rank to the percentage weight a trust edge
// originating from that rank carries. Ranks at or beyond the table's
// ceiling carry no weight at all: identities that far out do not
// relay trust further.
type CapacityTable map[int]int

// DefaultCapacityTable is the reference table from the data model: 100%
// at the owner, dropping to roughly 40% of the previous rank's weight
// with each hop, zero from rank 6 on.
func DefaultCapacityTable() CapacityTable {
	return CapacityTable{
		0: 100,
		1: 40,
		2: 16,
		3: 6,
		4: 2,
		5: 1,
	}
}

// CapacityTableFromViper reads the "capacity-table" setting (a
// string-keyed rank->weight map, the shape Viper hands back a YAML
// mapping as) into a CapacityTable, falling back to an individual
// rank's default whenever that key is missing or unparsable.
func CapacityTableFromViper(raw map[string]int) CapacityTable {
	if len(raw) == 0 {
		return DefaultCapacityTable()
	}
	out := DefaultCapacityTable()
	for k, v := range raw {
		rank, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[rank] = v
	}
	return out
}

// lookup returns the table's capacity for rank, or 0 past its ceiling.
func (c CapacityTable) lookup(rank int) int {
	if v, ok := c[rank]; ok {
		return v
	}
	return 0
}

// ceiling is the first rank for which every rank at or beyond it reads
// 0 from the table, used to bound the BFS/fixpoint passes.
func (c CapacityTable) ceiling() int {
	max := 0
	for rank, weight := range c {
		if weight > 0 && rank > max {
			max = rank
		}
	}
	return max + 1
}
