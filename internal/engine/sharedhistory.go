package engine

import "sync/atomic"

// sharedHistoryMax clamps the magnitude of any single shared-history cell,
// mirroring the clamp ordering.go applies to its per-worker history table.
const sharedHistoryMax = 1 << 14

// SharedHistory is a from/to quiet-move history table shared by every
// worker in the pool, so a refutation found by one worker immediately
// improves move ordering for every other worker searching the same game.
// Unlike MoveOrderer's per-worker history, updates here are lock-free:
// concurrent increments may lose an update to a race, which only blunts a
// bonus slightly and never corrupts the table.
type SharedHistory struct {
	table [64][64]atomic.Int32
}

// NewSharedHistory creates an empty shared history table.
func NewSharedHistory() *SharedHistory {
	return &SharedHistory{}
}

// Get returns the current history score for the from/to pair.
func (sh *SharedHistory) Get(from, to int) int {
	return int(sh.table[from][to].Load())
}

// Update applies a history bonus (or malus, if negative) to the from/to
// pair, gravity-scaled towards zero so the table tracks recent behavior
// rather than accumulating without bound.
func (sh *SharedHistory) Update(from, to, bonus int) {
	cell := &sh.table[from][to]
	for {
		old := cell.Load()
		delta := int32(bonus) - (old*int32(abs(bonus)))/sharedHistoryMax
		next := old + delta
		if next > sharedHistoryMax {
			next = sharedHistoryMax
		} else if next < -sharedHistoryMax {
			next = -sharedHistoryMax
		}
		if cell.CompareAndSwap(old, next) {
			return
		}
	}
}

// Clear resets every cell, used when starting a brand new game.
func (sh *SharedHistory) Clear() {
	for i := range sh.table {
		for j := range sh.table[i] {
			sh.table[i][j].Store(0)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
