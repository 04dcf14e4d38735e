package engine

import (
	"github.com/hailam/chessplay/internal/board"
)

// TTFlag indicates the type of bound stored in the transposition table.
type TTFlag uint8

const (
	TTExact      TTFlag = iota // Exact score
	TTLowerBound               // Failed high (beta cutoff)
	TTUpperBound               // Failed low
)

// ttBucketSize is the number of candidate slots probed per hash index (K=4).
const ttBucketSize = 4

// TTEntry represents an entry in the transposition table.
type TTEntry struct {
	Key      uint32     // Upper 32 bits of Zobrist hash for verification
	BestMove board.Move // Best move found
	Score    int16      // Score (bounded by flag)
	Depth    int8       // Search depth
	Flag     TTFlag     // Type of bound
	PV       bool        // Entry was stored from a principal-variation node
	Age      uint8      // Generation for replacement
}

// empty reports whether the slot has never been written.
func (e *TTEntry) empty() bool {
	return e.Depth == 0 && e.Key == 0 && e.BestMove == board.NoMove
}

// TranspositionTable is a racy-tolerant hash table for storing search
// results. It takes no locks: concurrent workers may read a half-written
// entry, but every retrieved move is re-validated against the current
// legal-move list before use, so a torn read can at worst cost a probe,
// never correctness.
type TranspositionTable struct {
	buckets [][ttBucketSize]TTEntry
	size    uint64
	mask    uint64
	age     uint8

	// Statistics
	hits   uint64
	probes uint64
}

// NewTranspositionTable creates a transposition table with the given size in MB.
func NewTranspositionTable(sizeMB int) *TranspositionTable {
	entrySize := uint64(16) // approximate size of one TTEntry, bucket = 4x this
	numBuckets := (uint64(sizeMB) * 1024 * 1024) / (entrySize * ttBucketSize)

	// Round down to power of 2 for fast masking.
	numBuckets = roundDownToPowerOf2(numBuckets)
	if numBuckets == 0 {
		numBuckets = 1
	}

	return &TranspositionTable{
		buckets: make([][ttBucketSize]TTEntry, numBuckets),
		size:    numBuckets * ttBucketSize,
		mask:    numBuckets - 1,
	}
}

// roundDownToPowerOf2 rounds n down to the nearest power of 2.
func roundDownToPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return (n + 1) >> 1
}

// Probe looks up a position in the transposition table, scanning all slots
// in the hash's bucket for a key match.
func (tt *TranspositionTable) Probe(hash uint64) (TTEntry, bool) {
	tt.probes++

	bucket := &tt.buckets[hash&tt.mask]
	key := uint32(hash >> 32)
	for i := range bucket {
		if bucket[i].Key == key && !bucket[i].empty() {
			tt.hits++
			return bucket[i], true
		}
	}

	return TTEntry{}, false
}

// Store saves a position in the transposition table. Within the target
// bucket, a slot holding the same key is reused in place; otherwise the
// replaced slot is chosen in priority order: an empty slot, then a slot from
// a stale (older) search generation, then the shallowest entry, whatever the
// depth of the new entry. A same-key, same-generation entry that is deeper
// than the new one is kept unless the new store comes from a PV node.
func (tt *TranspositionTable) Store(hash uint64, depth int, score int, flag TTFlag, bestMove board.Move, isPV bool) {
	bucket := &tt.buckets[hash&tt.mask]
	key := uint32(hash >> 32)

	victim := -1
	for i := range bucket {
		e := &bucket[i]
		if e.Key == key {
			victim = i
			break
		}
		if e.empty() {
			victim = i
			break
		}
		if e.Age != tt.age {
			victim = i
			continue
		}
		if victim == -1 || bucket[victim].Depth > e.Depth {
			if victim == -1 || bucket[victim].Age == tt.age {
				victim = i
			}
		}
	}
	if victim == -1 {
		victim = 0
	}

	e := &bucket[victim]
	if e.Key == key && e.Age == tt.age && depth < int(e.Depth) && !isPV {
		return // deeper same-generation entry for this exact position, keep it
	}

	e.Key = key
	e.BestMove = bestMove
	e.Score = int16(score)
	e.Depth = int8(depth)
	e.Flag = flag
	e.PV = isPV
	e.Age = tt.age
}

// NewSearch increments the age counter for a new search.
func (tt *TranspositionTable) NewSearch() {
	tt.age++
}

// Clear clears the transposition table.
func (tt *TranspositionTable) Clear() {
	for i := range tt.buckets {
		tt.buckets[i] = [ttBucketSize]TTEntry{}
	}
	tt.age = 0
	tt.hits = 0
	tt.probes = 0
}

// HashFull returns the permille (parts per thousand) of the table that is used.
func (tt *TranspositionTable) HashFull() int {
	used := 0
	sampleSize := 250
	if uint64(sampleSize) > uint64(len(tt.buckets)) {
		sampleSize = len(tt.buckets)
	}

	for i := 0; i < sampleSize; i++ {
		for _, e := range tt.buckets[i] {
			if !e.empty() && e.Age == tt.age {
				used++
			}
		}
	}

	return (used * 1000) / (sampleSize * ttBucketSize)
}

// HitRate returns the cache hit rate as a percentage.
func (tt *TranspositionTable) HitRate() float64 {
	if tt.probes == 0 {
		return 0
	}
	return float64(tt.hits) / float64(tt.probes) * 100
}

// Size returns the number of entry slots in the table.
func (tt *TranspositionTable) Size() uint64 {
	return tt.size
}

// AdjustScoreFromTT adjusts a score read from the transposition table.
// Mate scores need to be adjusted based on ply distance.
func AdjustScoreFromTT(score int, ply int) int {
	if score > MateScore-MaxPly {
		return score - ply
	}
	if score < -MateScore+MaxPly {
		return score + ply
	}
	return score
}

// AdjustScoreToTT adjusts a score for storage in the transposition table.
func AdjustScoreToTT(score int, ply int) int {
	if score > MateScore-MaxPly {
		return score + ply
	}
	if score < -MateScore+MaxPly {
		return score - ply
	}
	return score
}
