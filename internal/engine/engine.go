package engine

import (
	"fmt"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/bookio"
	"golang.org/x/sync/errgroup"
)

// spinlock is a thin, fairness-agnostic lock for the iteration-sync commit
// path below: held for only the handful of instructions that read/adjust
// the shared depth, window and plysearched state, never across a recursive
// search call.
type spinlock struct {
	held atomic.Bool
}

func (s *spinlock) Lock() {
	for !s.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (s *spinlock) Unlock() {
	s.held.Store(false)
}

// iterationSync is the shared state one Lazy-SMP pool of workers uses to
// cooperate on iterative deepening: a single "next depth to claim" counter,
// a shared aspiration window, and a per-depth completion bitmap, so that
// only one worker's result for a given depth is ever reported and every
// worker searches the next depth against the window its fastest sibling
// already settled. Mutations to rdepth/alpha/beta/plysearched/rootBestMove
// are serialized by lock, taken only at depth-commit time; reads of rdepth
// outside the lock may observe a stale value; a worker that claims a stale
// depth simply re-validates under the lock before advancing.
type iterationSync struct {
	lock spinlock

	rdepth atomic.Int64
	alpha  atomic.Int64
	beta   atomic.Int64

	resolveIter atomic.Bool
	plysearched []atomic.Bool
	stopIter    []atomic.Bool

	rootBestMove  board.Move
	rootBestDepth int
	rootPonder    board.Move
}

func newIterationSync(maxDepth, numWorkers int) *iterationSync {
	s := &iterationSync{
		plysearched: make([]atomic.Bool, maxDepth+1),
		stopIter:    make([]atomic.Bool, numWorkers),
	}
	s.rdepth.Store(1)
	s.alpha.Store(int64(-Infinity))
	s.beta.Store(int64(Infinity))
	return s
}

// stopIteration wakes every worker still iterating on the current depth so
// it re-reads the (possibly widened) window instead of finishing a search
// against a window that is already known to be wrong.
func (s *iterationSync) stopIteration() {
	for i := range s.stopIter {
		s.stopIter[i].Store(true)
	}
}

// NumWorkers is the number of parallel search workers (matches CPU cores).
var NumWorkers = runtime.GOMAXPROCS(0)

// SearchInfo contains information about the current search.
type SearchInfo struct {
	Depth    int
	Score    int
	Nodes    uint64
	Time     time.Duration
	PV       []board.Move
	HashFull int // Permille of hash table used
}

// SearchLimits specifies constraints on the search.
type SearchLimits struct {
	Depth    int           // Maximum depth (0 = no limit)
	Nodes    uint64        // Maximum nodes (0 = no limit)
	MoveTime time.Duration // Time for this move (0 = no limit)
	Infinite bool          // Search until stopped
	MultiPV  int           // Number of principal variations to find (0 or 1 = single best move)
}

// SearchResult contains the result of a single PV search.
type SearchResult struct {
	Move  board.Move
	Score int
	PV    []board.Move
	Depth int
}

// Difficulty represents the AI difficulty level.
type Difficulty int

const (
	Easy   Difficulty = iota // ~2-3 ply, 500ms
	Medium                   // 7 ply, 1s
	Hard                     // Maximum strength, 3s
)

// DifficultySettings maps difficulty to search limits.
var DifficultySettings = map[Difficulty]SearchLimits{
	Easy:   {Depth: 3, MoveTime: 500 * time.Millisecond},
	Medium: {Depth: 7, MoveTime: 1 * time.Second},
	Hard:   {Depth: 40, MoveTime: 3 * time.Second}, // Max strength (time-limited)
}

// Engine is the chess AI engine.
type Engine struct {
	// Workers for parallel search
	workers       []*Worker
	pawnTable     *PawnTable
	tt            *TranspositionTable
	sharedHistory *SharedHistory // Shared history for Lazy SMP
	stopFlag      atomic.Bool

	// Dedicated single-threaded worker driving MultiPV analysis (root-move
	// exclusion doesn't fit the Lazy-SMP depth-staggered pool, so MultiPV
	// gets its own sequential iterative-deepening loop below).
	multiPVWorker *Worker

	// busyTable is ABDADA's shared move-hash table, letting Lazy SMP workers
	// defer redundant subtree searches instead of duplicating them outright.
	busyTable *BusyTable

	difficulty Difficulty
	book       *bookio.Book
	options    Options

	// Position history for repetition detection
	rootPosHashes []uint64

	// Callbacks
	OnInfo func(SearchInfo)
}

// NewEngine creates a new chess engine with the given transposition table size in MB.
func NewEngine(ttSizeMB int) *Engine {
	tt := NewTranspositionTable(ttSizeMB)
	sharedHistory := NewSharedHistory()

	busyTable := NewBusyTable(1 << 16)

	e := &Engine{
		tt:            tt,
		pawnTable:     NewPawnTable(1), // Engine-level table; every worker, MultiPV included, gets its own
		sharedHistory: sharedHistory,
		busyTable:     busyTable,
		difficulty:    Medium,
		workers:       make([]*Worker, NumWorkers),
		options:       DefaultOptions(),
	}
	e.options.HashMB = ttSizeMB

	log.Printf("[Engine] Creating %d workers (GOMAXPROCS=%d)", NumWorkers, runtime.GOMAXPROCS(0))

	// Create workers, each with its own pawn table for thread safety
	for i := 0; i < NumWorkers; i++ {
		workerPawnTable := NewPawnTable(1) // 1MB per worker
		e.workers[i] = NewWorker(i, tt, workerPawnTable, sharedHistory, &e.stopFlag)
		e.workers[i].SetBusyTable(busyTable, e.options.ABDADADepth)
		e.workers[i].SetCutoffCheckDepth(e.options.CutoffCheckDepth)
	}

	// Dedicated worker for MultiPV's sequential exclusion search. It never
	// shares a position with the Lazy SMP pool (root moves are excluded
	// instead), so it does not participate in ABDADA cooperation.
	e.multiPVWorker = NewWorker(-1, tt, NewPawnTable(1), sharedHistory, &e.stopFlag)

	return e
}

// SetDifficulty sets the engine difficulty.
func (e *Engine) SetDifficulty(d Difficulty) {
	e.difficulty = d
}

// LoadBook loads an opening book from a Polyglot file.
func (e *Engine) LoadBook(filename string) error {
	b, err := bookio.LoadPolyglot(filename)
	if err != nil {
		return err
	}
	e.book = b
	return nil
}

// SetBook sets the opening book.
func (e *Engine) SetBook(b *bookio.Book) {
	e.book = b
}

// HasBook returns true if an opening book is loaded.
func (e *Engine) HasBook() bool {
	return e.book != nil
}

// Options holds the engine's tunable settings, clamped to the ranges the
// front-end contract promises. Unlike search constants (razoring margins,
// LMP tables, ...) these are the only values a caller can change at runtime.
type Options struct {
	HashMB           int
	Threads          int
	Ponder           bool
	ABDADADepth      int
	CutoffCheckDepth int
	NUMA             bool
}

// DefaultOptions returns the option set an engine starts with.
func DefaultOptions() Options {
	return Options{
		HashMB:           256,
		Threads:          NumWorkers,
		Ponder:           false,
		ABDADADepth:      3,
		CutoffCheckDepth: 4,
		NUMA:             false,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SetOption applies a named UCI-style option. Out-of-range values are
// clamped silently rather than rejected, per spec: configuration errors
// never propagate as Go errors, only resizing the hash table can fail.
func (e *Engine) SetOption(name, value string) error {
	switch name {
	case "Hash":
		mb := atoiOr(value, e.options.HashMB)
		mb = clampInt(mb, 1, 65536)
		if mb != e.options.HashMB {
			if err := e.resizeHash(mb); err != nil {
				return fmt.Errorf("resize hash to %dMB: %w", mb, err)
			}
		}
	case "Threads":
		n := clampInt(atoiOr(value, e.options.Threads), 1, 4096)
		e.options.Threads = n
		e.resizeWorkers(n)
	case "Ponder":
		e.options.Ponder = value == "true"
	case "ABDADA Depth":
		e.options.ABDADADepth = clampInt(atoiOr(value, e.options.ABDADADepth), 1, 128)
		for _, w := range e.workers {
			w.SetBusyTable(e.busyTable, e.options.ABDADADepth)
		}
	case "Cutoff Check Depth":
		e.options.CutoffCheckDepth = clampInt(atoiOr(value, e.options.CutoffCheckDepth), 1, 128)
		for _, w := range e.workers {
			w.SetCutoffCheckDepth(e.options.CutoffCheckDepth)
		}
	case "NUMA":
		e.options.NUMA = value == "true"
	}
	return nil
}

// atoiOr parses s as a base-10 int, returning fallback on any parse error.
func atoiOr(s string, fallback int) int {
	n := 0
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	if s == "" || (neg && len(s) == 1) {
		return fallback
	}
	if neg {
		n = -n
	}
	return n
}

// resizeHash replaces the transposition table with a new one of the given
// size and points every worker, the MultiPV worker included, at it.
func (e *Engine) resizeHash(mb int) error {
	tt := NewTranspositionTable(mb)
	e.tt = tt
	for _, w := range e.workers {
		w.tt = tt
	}
	e.multiPVWorker.tt = tt
	e.options.HashMB = mb
	return nil
}

// resizeWorkers grows or shrinks the worker pool to n threads.
func (e *Engine) resizeWorkers(n int) {
	if n == len(e.workers) {
		return
	}
	NumWorkers = n
	workers := make([]*Worker, n)
	for i := 0; i < n; i++ {
		if i < len(e.workers) {
			workers[i] = e.workers[i]
			continue
		}
		workers[i] = NewWorker(i, e.tt, NewPawnTable(1), e.sharedHistory, &e.stopFlag)
		workers[i].SetBusyTable(e.busyTable, e.options.ABDADADepth)
		workers[i].SetCutoffCheckDepth(e.options.CutoffCheckDepth)
	}
	e.workers = workers
}

// NewGame resets all state that must not leak across games: the
// transposition table, per-worker eval caches, and history tables.
func (e *Engine) NewGame() {
	e.tt.Clear()
	e.busyTable.Clear()
	for _, w := range e.workers {
		w.pawnTable.Clear()
		w.orderer.Clear()
	}
	e.sharedHistory.Clear()
	e.rootPosHashes = nil
}

// SetPosition sets up the root position from a FEN string and replays the
// given UCI long-algebraic moves on top of it, matching the front-end's
// "position fen ... moves ..." contract.
func (e *Engine) SetPosition(fen string, moves ...string) (*board.Position, error) {
	pos, err := board.ParseFEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}

	hashes := make([]uint64, 0, len(moves)+1)
	hashes = append(hashes, pos.Hash)
	for _, ms := range moves {
		m, err := board.ParseMove(ms, pos)
		if err != nil {
			return nil, fmt.Errorf("parse move %q: %w", ms, err)
		}
		pos.MakeMove(m)
		hashes = append(hashes, pos.Hash)
	}
	e.SetPositionHistory(hashes)
	return pos, nil
}

// Go starts a search under UCI-style time/depth/node limits and returns the
// best move found, mirroring the front-end's "go" command. The front-end
// polls progress via OnInfo rather than this call streaming anything itself.
func (e *Engine) Go(pos *board.Position, limits UCILimits, ply int) board.Move {
	return e.SearchWithUCILimits(pos, limits, ply)
}

// PonderHit signals that the move being pondered was actually played; since
// this engine does not special-case ponder search internally (it always
// searches the position it is given), PonderHit is a no-op kept for
// front-end contract completeness.
func (e *Engine) PonderHit() {}

// SetPositionHistory sets the position history for repetition detection.
// This should be called before Search() with hashes from the game's move history.
func (e *Engine) SetPositionHistory(hashes []uint64) {
	e.rootPosHashes = make([]uint64, len(hashes))
	copy(e.rootPosHashes, hashes)

	// Set for all workers
	for _, w := range e.workers {
		w.SetRootHistory(hashes)
	}

	// Set for the MultiPV worker
	e.multiPVWorker.SetRootHistory(hashes)
}

// Search finds the best move for the given position.
func (e *Engine) Search(pos *board.Position) board.Move {
	limits := DifficultySettings[e.difficulty]
	return e.SearchWithLimits(pos, limits)
}

// SearchWithLimits finds the best move with specific search limits.
// Uses Lazy SMP with multiple workers searching in parallel.
func (e *Engine) SearchWithLimits(pos *board.Position, limits SearchLimits) board.Move {
	log.Printf("[Search] Received position with SideToMove=%v", pos.SideToMove)

	// Try opening book first
	if e.book != nil {
		if move, ok := e.book.Probe(pos); ok {
			return move
		}
	}
	log.Printf("[Search] After book probe SideToMove=%v", pos.SideToMove)

	// Reset for new search
	e.stopFlag.Store(false)
	e.tt.NewSearch()

	// Reset all workers
	for _, w := range e.workers {
		w.Reset()
	}

	startTime := time.Now()
	var bestMove board.Move
	var bestScore int
	var bestPV []board.Move
	var bestDepth int

	// Determine maximum depth
	maxDepth := MaxPly
	if limits.Depth > 0 {
		maxDepth = limits.Depth
	}

	// Determine deadline
	var deadline time.Time
	if limits.MoveTime > 0 {
		deadline = startTime.Add(limits.MoveTime)
	}

	// Create result channel
	resultCh := make(chan WorkerResult, maxDepth+1)

	// Shared iteration state: all workers cooperate on a single "next depth
	// to claim" counter and aspiration window rather than searching
	// independent depths, so only one result per depth is ever reported.
	sync := newIterationSync(maxDepth, NumWorkers)

	// Start workers under an errgroup so a worker goroutine panic/error is
	// observable instead of silently vanishing, unlike a bare WaitGroup.
	var g errgroup.Group
	for i := 0; i < NumWorkers; i++ {
		workerID := i
		g.Go(func() error {
			e.workerSearch(workerID, pos, maxDepth, sync, resultCh)
			return nil
		})
	}

	// Collect results in a separate goroutine
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(resultCh)
		close(done)
	}()

	// A move-time deadline is only checked when a depth commits below; since
	// a single worker may now be mid-search on a deep iteration for a while
	// with no depth committing, a dedicated watcher enforces the deadline
	// independently of result traffic.
	if !deadline.IsZero() {
		go func() {
			timer := time.NewTimer(time.Until(deadline))
			defer timer.Stop()
			select {
			case <-timer.C:
				e.stopFlag.Store(true)
			case <-done:
			}
		}()
	}

	// Track nodes across all workers
	var totalNodes uint64

	// Process results
resultLoop:
	for {
		select {
		case result, ok := <-resultCh:
			if !ok {
				break resultLoop
			}

			// Update total nodes
			totalNodes += result.Nodes

			// Update best result if this is deeper or same depth with better score
			if result.Move != board.NoMove {
				if result.Depth > bestDepth ||
					(result.Depth == bestDepth && result.Score > bestScore) {
					bestMove = result.Move
					bestScore = result.Score
					bestPV = result.PV
					bestDepth = result.Depth

					// Report info
					if e.OnInfo != nil {
						elapsed := time.Since(startTime)
						e.OnInfo(SearchInfo{
							Depth:    bestDepth,
							Score:    bestScore,
							Nodes:    e.getTotalNodes(),
							Time:     elapsed,
							PV:       bestPV,
							HashFull: e.tt.HashFull(),
						})
					}

					// Early termination: found mate
					if bestScore > MateScore-100 || bestScore < -MateScore+100 {
						e.stopFlag.Store(true)
						break resultLoop
					}
				}
			}

			// Check time limit
			if !deadline.IsZero() && time.Now().After(deadline) {
				e.stopFlag.Store(true)
				break resultLoop
			}

		case <-done:
			break resultLoop
		}
	}

	// Ensure all workers are stopped
	e.stopFlag.Store(true)

	// Wait for workers to finish
	<-done

	return bestMove
}

// SearchWithUCILimits finds the best move using UCI time controls.
// Supports wtime/btime/winc/binc for proper tournament time management.
func (e *Engine) SearchWithUCILimits(pos *board.Position, limits UCILimits, ply int) board.Move {
	// Try opening book first
	if e.book != nil {
		if move, ok := e.book.Probe(pos); ok {
			return move
		}
	}

	// Initialize time manager
	tm := NewTimeManager()
	tm.Init(limits, pos.SideToMove, ply)

	// Reset for new search
	e.stopFlag.Store(false)
	e.tt.NewSearch()

	// Reset all workers
	for _, w := range e.workers {
		w.Reset()
	}

	startTime := time.Now()
	var bestMove board.Move
	var bestScore int
	var bestPV []board.Move
	var bestDepth int
	var lastBestMove board.Move
	var stabilityCount int
	var instabilityCount int

	// Determine maximum depth
	maxDepth := MaxPly
	if limits.Depth > 0 {
		maxDepth = limits.Depth
	}

	// Create result channel
	resultCh := make(chan WorkerResult, maxDepth+1)

	// Shared iteration state: all workers cooperate on a single "next depth
	// to claim" counter and aspiration window rather than searching
	// independent depths, so only one result per depth is ever reported.
	sync := newIterationSync(maxDepth, NumWorkers)

	// Start workers under an errgroup so a worker goroutine panic/error is
	// observable instead of silently vanishing, unlike a bare WaitGroup.
	var g errgroup.Group
	for i := 0; i < NumWorkers; i++ {
		workerID := i
		g.Go(func() error {
			e.workerSearch(workerID, pos, maxDepth, sync, resultCh)
			return nil
		})
	}

	// Collect results in a separate goroutine
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(resultCh)
		close(done)
	}()

	// A time-control deadline is only checked when a depth commits below;
	// since a single worker may now be mid-search on a deep iteration for a
	// while with no depth committing, a dedicated watcher enforces the
	// maximum time independently of result traffic.
	go func() {
		timer := time.NewTimer(tm.MaximumTime())
		defer timer.Stop()
		select {
		case <-timer.C:
			e.stopFlag.Store(true)
		case <-done:
		}
	}()

	// Process results
resultLoop:
	for {
		select {
		case result, ok := <-resultCh:
			if !ok {
				break resultLoop
			}

			// Update best result if this is deeper or same depth with better score
			if result.Move != board.NoMove {
				if result.Depth > bestDepth ||
					(result.Depth == bestDepth && result.Score > bestScore) {

					// Track move stability
					if result.Depth > bestDepth {
						if result.Move == lastBestMove {
							stabilityCount++
							instabilityCount = 0
						} else {
							instabilityCount++
							stabilityCount = 0
						}
						lastBestMove = result.Move
					}

					bestMove = result.Move
					bestScore = result.Score
					bestPV = result.PV
					bestDepth = result.Depth

					// Report info
					if e.OnInfo != nil {
						elapsed := time.Since(startTime)
						e.OnInfo(SearchInfo{
							Depth:    bestDepth,
							Score:    bestScore,
							Nodes:    e.getTotalNodes(),
							Time:     elapsed,
							PV:       bestPV,
							HashFull: e.tt.HashFull(),
						})
					}

					// Early termination: found mate
					if bestScore > MateScore-100 || bestScore < -MateScore+100 {
						e.stopFlag.Store(true)
						break resultLoop
					}

					// Time management: check if we should stop based on stability
					if tm.PastOptimum() {
						if stabilityCount >= 4 {
							// Move is very stable, stop early
							e.stopFlag.Store(true)
							break resultLoop
						}
					}
				}
			}

			// Check time limit
			if tm.ShouldStop() {
				e.stopFlag.Store(true)
				break resultLoop
			}

			// Node limit check
			if limits.Nodes > 0 && e.getTotalNodes() >= limits.Nodes {
				e.stopFlag.Store(true)
				break resultLoop
			}

		case <-done:
			break resultLoop
		}
	}

	// Ensure all workers are stopped
	e.stopFlag.Store(true)
	<-done

	return bestMove
}

// workerSearch runs one Lazy-SMP worker's side of the shared iterative
// deepening protocol: claim the next depth off sync.rdepth, search it
// against the shared aspiration window, and attempt to commit the result
// under sync.lock. Exactly one worker's result is reported per depth - the
// first to successfully commit; every other worker either finds the depth
// already marked searched (and moves on) or is told via stopIter to widen
// its window and retry the same depth.
func (e *Engine) workerSearch(workerID int, pos *board.Position, maxDepth int, sync *iterationSync, resultCh chan<- WorkerResult) {
	worker := e.workers[workerID]
	worker.InitSearch(pos.Copy())

	for {
		if e.stopFlag.Load() {
			return
		}
		rdepth := int(sync.rdepth.Load())
		if rdepth > maxDepth {
			return
		}

		delta := 10
		sync.stopIter[workerID].Store(false)
		committed := false

		for !committed {
			alpha := int(sync.alpha.Load())
			beta := int(sync.beta.Load())

			move, score := worker.SearchDepth(rdepth, alpha, beta)

			if e.stopFlag.Load() {
				return
			}
			if sync.plysearched[rdepth-1].Load() {
				break
			}
			if sync.stopIter[workerID].Load() && sync.resolveIter.Load() {
				continue
			}

			sync.lock.Lock()
			if e.stopFlag.Load() {
				sync.lock.Unlock()
				return
			}
			if sync.plysearched[rdepth-1].Load() {
				sync.lock.Unlock()
				break
			}
			if sync.stopIter[workerID].Load() && sync.resolveIter.Load() {
				sync.lock.Unlock()
				continue
			}

			a := int(sync.alpha.Load())
			b := int(sync.beta.Load())

			switch {
			case score <= a:
				newAlpha := score - delta
				if newAlpha < -Infinity {
					newAlpha = -Infinity
				}
				sync.alpha.Store(int64(newAlpha))
				delta += delta / 2
				sync.resolveIter.Store(true)
				sync.stopIteration()

			case score >= b:
				newBeta := score + delta
				if newBeta > Infinity {
					newBeta = Infinity
				}
				sync.beta.Store(int64(newBeta))
				delta += delta / 2
				sync.resolveIter.Store(true)
				sync.stopIteration()

			default:
				sync.plysearched[rdepth-1].Store(true)
				sync.resolveIter.Store(false)
				sync.rootBestMove = move
				sync.rootBestDepth = rdepth
				if worker.pv.length[0] > 1 {
					sync.rootPonder = worker.pv.moves[0][1]
				}

				nextDepth := rdepth + 1
				if nextDepth >= 5 {
					na, nb := score-10, score+10
					if na < -Infinity {
						na = -Infinity
					}
					if nb > Infinity {
						nb = Infinity
					}
					sync.alpha.Store(int64(na))
					sync.beta.Store(int64(nb))
				} else {
					sync.alpha.Store(int64(-Infinity))
					sync.beta.Store(int64(Infinity))
				}
				sync.rdepth.Store(int64(nextDepth))
				sync.stopIteration()
				committed = true

				pv := worker.GetPV()
				resultCh <- WorkerResult{
					WorkerID: workerID,
					Depth:    rdepth,
					Score:    score,
					Move:     move,
					PV:       pv,
					Nodes:    worker.Nodes(),
				}
			}

			sync.lock.Unlock()
		}
	}
}

// getTotalNodes returns the total nodes searched by all workers.
func (e *Engine) getTotalNodes() uint64 {
	var total uint64
	for _, w := range e.workers {
		total += w.Nodes()
	}
	return total
}

// SearchMultiPV finds multiple best moves (principal variations) for analysis.
func (e *Engine) SearchMultiPV(pos *board.Position, limits SearchLimits) []SearchResult {
	numPV := limits.MultiPV
	if numPV <= 0 {
		numPV = 1
	}

	results := make([]SearchResult, 0, numPV)
	excludedMoves := make([]board.Move, 0, numPV)

	for i := 0; i < numPV; i++ {
		// Search excluding already-found best moves
		move, score, pv, depth := e.searchWithExclusions(pos, limits, excludedMoves)
		if move == board.NoMove {
			break
		}

		results = append(results, SearchResult{
			Move:  move,
			Score: score,
			PV:    pv,
			Depth: depth,
		})
		excludedMoves = append(excludedMoves, move)
	}

	// Sort results by score (descending) to ensure best moves are first
	for i := 0; i < len(results)-1; i++ {
		maxIdx := i
		for j := i + 1; j < len(results); j++ {
			if results[j].Score > results[maxIdx].Score {
				maxIdx = j
			}
		}
		if maxIdx != i {
			results[i], results[maxIdx] = results[maxIdx], results[i]
		}
	}

	return results
}

// searchWithExclusions searches for best move excluding certain moves at the root.
func (e *Engine) searchWithExclusions(pos *board.Position, limits SearchLimits, excluded []board.Move) (board.Move, int, []board.Move, int) {
	e.stopFlag.Store(false)
	w := e.multiPVWorker
	w.InitSearch(pos.Copy())
	w.Reset()
	w.SetExcludedMoves(excluded)
	e.tt.NewSearch()

	startTime := time.Now()
	var bestMove board.Move
	var bestScore int
	var bestDepth int

	maxDepth := MaxPly
	if limits.Depth > 0 {
		maxDepth = limits.Depth
	}

	var deadline time.Time
	if limits.MoveTime > 0 {
		deadline = startTime.Add(limits.MoveTime)
	}

	for depth := 1; depth <= maxDepth; depth++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}

		move, score := w.SearchDepth(depth, -Infinity, Infinity)

		if w.stopped() {
			break
		}

		if move != board.NoMove {
			bestMove = move
			bestScore = score
			bestDepth = depth
		}

		if score > MateScore-100 || score < -MateScore+100 {
			break
		}

		if !deadline.IsZero() {
			elapsed := time.Since(startTime)
			remaining := limits.MoveTime - elapsed
			if remaining < elapsed {
				break
			}
		}
	}

	pv := w.GetPV()
	w.SetExcludedMoves(nil) // Clear exclusions

	return bestMove, bestScore, pv, bestDepth
}

// Stop stops the current search.
func (e *Engine) Stop() {
	e.stopFlag.Store(true)
}

// Clear clears the transposition table and other caches.
func (e *Engine) Clear() {
	e.tt.Clear()
	// Clear all worker orderers
	for _, w := range e.workers {
		w.orderer.Clear()
	}
	e.multiPVWorker.orderer.Clear()
}

// Perft performs a perft test (for debugging move generation).
func (e *Engine) Perft(pos *board.Position, depth int) uint64 {
	if depth == 0 {
		return 1
	}

	moves := pos.GenerateLegalMoves()
	if depth == 1 {
		return uint64(moves.Len())
	}

	var nodes uint64
	for i := 0; i < moves.Len(); i++ {
		move := moves.Get(i)
		undo := pos.MakeMove(move)
		nodes += e.Perft(pos, depth-1)
		pos.UnmakeMove(move, undo)
	}

	return nodes
}

// Perft2 performs a perft count over the pseudo-legal generator, filtering
// out illegal moves one at a time with IsLegal rather than the bulk
// filterLegalMoves pass Perft relies on. Kept alongside Perft so the two
// generation paths can be cross-checked against each other at every depth.
func (e *Engine) Perft2(pos *board.Position, depth int) uint64 {
	if depth == 0 {
		return 1
	}

	moves := pos.GeneratePseudoLegalMoves()

	var nodes uint64
	for i := 0; i < moves.Len(); i++ {
		move := moves.Get(i)
		if !pos.IsLegal(move) {
			continue
		}
		if depth == 1 {
			nodes++
			continue
		}
		undo := pos.MakeMove(move)
		nodes += e.Perft2(pos, depth-1)
		pos.UnmakeMove(move, undo)
	}

	return nodes
}

// Evaluate returns the static evaluation of a position.
func (e *Engine) Evaluate(pos *board.Position) int {
	return Evaluate(pos)
}

// ScoreToString converts a score to a human-readable string.
func ScoreToString(score int) string {
	if score > MateScore-100 {
		mateIn := (MateScore - score + 1) / 2
		return "Mate in " + itoa(mateIn)
	}
	if score < -MateScore+100 {
		mateIn := (MateScore + score + 1) / 2
		return "Mated in " + itoa(mateIn)
	}

	// Convert centipawns to pawns
	sign := ""
	if score < 0 {
		sign = "-"
		score = -score
	}
	pawns := score / 100
	centipawns := score % 100

	return sign + itoa(pawns) + "." + itoa(centipawns)
}

// Simple integer to string
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	if n < 0 {
		return "-" + itoa(-n)
	}
	s := ""
	for n > 0 {
		s = string('0'+byte(n%10)) + s
		n /= 10
	}
	return s
}
