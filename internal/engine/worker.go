package engine

import (
	"math"
	"sync/atomic"

	"github.com/hailam/chessplay/internal/board"
)

// lmrReductions is a precomputed table of log-log late move reductions:
// 0.75 + ln(depth)*ln(moveCount)/2.1.
var lmrReductions [64][64]int

func init() {
	for d := 1; d < 64; d++ {
		for m := 1; m < 64; m++ {
			r := 0.75 + math.Log(float64(d))*math.Log(float64(m))/2.1
			lmrReductions[d][m] = int(r)
		}
	}
}

// lmpThreshold bounds the number of quiet moves tried at shallow depth
// before Late Move Pruning skips the rest outright.
var lmpThreshold = [9]int{0, 3, 5, 7, 15, 21, 27, 35, 43}

const (
	razoringMaxDepth   = 2
	razoringMargin     = 325
	staticNullMaxDepth = 9
	staticNullMargin   = 85
	futilityMargin     = 90
	futilityBase       = 250
	probcutMinDepth    = 5
	probcutMargin      = 100
	singularMinDepth   = 8
)

// Worker represents a search worker for parallel Lazy SMP search.
// Each worker has its own state but shares the transposition table and history.
type Worker struct {
	id int

	// Per-worker position copy
	pos *board.Position

	// Per-worker move ordering (killers stay local, history shared)
	orderer *MoveOrderer

	// Per-worker search state
	nodes uint64
	pv    PVTable

	// Per-worker stacks
	undoStack [MaxPly]board.UndoInfo
	evalStack [MaxPly]int

	// playedMoves records the quiet moves tried (but not best) at each ply,
	// so a cutoff can apply the small malus/decay original_source's
	// updateHistory gives to everything that wasn't the best move.
	playedMoves [MaxPly][]board.Move

	// Per-worker position history for repetition detection.
	// Pre-allocated buffer avoids allocation per move in negamax.
	// Size: MaxPly (128) + 640 for root history = 768
	posHistoryBuffer [768]uint64
	posHistoryLen    int
	rootPosHashes    []uint64

	// Multi-PV support: moves to exclude at root
	excludedRootMoves []board.Move

	// Shared resources (pointers to engine's shared state)
	tt            *TranspositionTable
	pawnTable     *PawnTable
	sharedHistory *SharedHistory // Shared history for Lazy SMP
	stopFlag      *atomic.Bool

	// Communication channel for results
	resultCh chan<- WorkerResult

	// Current search depth (for result reporting)
	depth int

	// cutoffCheckDepth mirrors the engine's "Cutoff Check Depth" option: at
	// or above this depth, a non-root, non-PV node re-probes the TT right
	// before its move loop, since a sibling worker may have already resolved
	// this position. The re-probe runs whether or not any ABDADA move has
	// been deferred at the node.
	cutoffCheckDepth int

	// ABDADA cooperation: shared busy table across all workers, and the
	// minimum depth at which a move is worth announcing/checking.
	busyTable   *BusyTable
	abdadaDepth int
}

// WorkerResult contains the result from a worker's search at a given depth.
type WorkerResult struct {
	WorkerID int
	Depth    int
	Score    int
	Move     board.Move
	PV       []board.Move
	Nodes    uint64
}

// NewWorker creates a new search worker.
func NewWorker(id int, tt *TranspositionTable, pawnTable *PawnTable, sharedHistory *SharedHistory, stopFlag *atomic.Bool) *Worker {
	return &Worker{
		id:               id,
		orderer:          NewMoveOrderer(),
		tt:               tt,
		pawnTable:        pawnTable,
		sharedHistory:    sharedHistory,
		stopFlag:         stopFlag,
		abdadaDepth:      3,
		cutoffCheckDepth: 4,
	}
}

// SetBusyTable attaches the shared ABDADA busy table and the minimum depth
// at which this worker announces/checks moves in it. A nil table disables
// ABDADA cooperation entirely (each worker searches independently).
func (w *Worker) SetBusyTable(bt *BusyTable, minDepth int) {
	w.busyTable = bt
	w.abdadaDepth = minDepth
}

// SetCutoffCheckDepth sets the depth at or above which a non-root, non-PV
// node re-probes the TT before starting its move loop.
func (w *Worker) SetCutoffCheckDepth(d int) {
	w.cutoffCheckDepth = d
}

// ID returns the worker's ID.
func (w *Worker) ID() int {
	return w.id
}

// Nodes returns the number of nodes searched by this worker.
func (w *Worker) Nodes() uint64 {
	return w.nodes
}

// Reset resets the worker for a new search.
func (w *Worker) Reset() {
	w.nodes = 0
	w.orderer.Clear()
}

// SetRootHistory sets the position history from the game (for repetition detection).
func (w *Worker) SetRootHistory(hashes []uint64) {
	w.rootPosHashes = make([]uint64, len(hashes))
	copy(w.rootPosHashes, hashes)
}

// SetResultChannel sets the channel for sending search results.
func (w *Worker) SetResultChannel(ch chan<- WorkerResult) {
	w.resultCh = ch
}

// SetExcludedMoves sets the moves to exclude at root (for Multi-PV).
func (w *Worker) SetExcludedMoves(moves []board.Move) {
	w.excludedRootMoves = moves
}

// InitSearch initializes the worker for a new search.
// IMPORTANT: pos must be a dedicated copy for this worker (not shared with other goroutines).
// The caller (engine.workerSearch) is responsible for providing an isolated copy.
func (w *Worker) InitSearch(pos *board.Position) {
	w.pos = pos // Use directly - caller provides dedicated copy

	// Initialize position history using pre-allocated buffer (avoids allocation per search)
	// Copy root position hashes (game history) into buffer
	rootLen := len(w.rootPosHashes)
	if rootLen > 640 {
		// Truncate to most recent 640 hashes (extremely long games)
		rootLen = 640
		copy(w.posHistoryBuffer[:rootLen], w.rootPosHashes[len(w.rootPosHashes)-640:])
	} else {
		copy(w.posHistoryBuffer[:rootLen], w.rootPosHashes)
	}
	// Add current position hash
	w.posHistoryBuffer[rootLen] = w.pos.Hash
	w.posHistoryLen = rootLen + 1
}

// Pos returns the current position (for debugging).
func (w *Worker) Pos() *board.Position {
	return w.pos
}

// SearchDepth performs search at the given depth and sends result via channel.
func (w *Worker) SearchDepth(depth, alpha, beta int) (board.Move, int) {
	w.depth = depth
	inCheck := w.pos.InCheck()

	score := w.negamax(true, alpha < beta-1, alpha, beta, depth, 0, board.NoMove, false, inCheck)

	var bestMove board.Move
	if w.pv.length[0] > 0 {
		bestMove = w.pv.moves[0][0]
	}

	// Safety fallback: if no PV but legal moves exist, use first legal move
	if bestMove == board.NoMove && !w.stopFlag.Load() {
		moves := w.pos.GenerateLegalMoves()
		if moves.Len() > 0 {
			bestMove = moves.Get(0)
		}
	}

	// Send result if channel is set
	if w.resultCh != nil && !w.stopFlag.Load() {
		pv := make([]board.Move, w.pv.length[0])
		for i := 0; i < w.pv.length[0]; i++ {
			pv[i] = w.pv.moves[0][i]
		}
		w.resultCh <- WorkerResult{
			WorkerID: w.id,
			Depth:    depth,
			Score:    score,
			Move:     bestMove,
			PV:       pv,
			Nodes:    w.nodes,
		}
	}

	return bestMove, score
}

// evaluate returns the static evaluation using the cached pawn structure.
func (w *Worker) evaluate() int {
	return EvaluateWithPawnTable(w.pos, w.pawnTable)
}

// stopped returns true if search should stop.
func (w *Worker) stopped() bool {
	return w.stopFlag.Load()
}

// GetPV returns the principal variation from the last search.
func (w *Worker) GetPV() []board.Move {
	pv := make([]board.Move, w.pv.length[0])
	for i := 0; i < w.pv.length[0]; i++ {
		pv[i] = w.pv.moves[0][i]
	}
	return pv
}

// isExcludedRootMove checks if a move is in the excluded list (for Multi-PV).
func (w *Worker) isExcludedRootMove(move board.Move) bool {
	for _, excluded := range w.excludedRootMoves {
		if move == excluded {
			return true
		}
	}
	return false
}

// isDraw checks for draw by repetition or 50-move rule.
func (w *Worker) isDraw() bool {
	// 50-move rule
	if w.pos.HalfMoveClock >= 100 {
		return true
	}

	// Insufficient material
	if w.pos.IsInsufficientMaterial() {
		return true
	}

	// Repetition: one earlier occurrence of the current position is a draw
	// (the buffer holds the current position too, hence count >= 2)
	if w.posHistoryLen > 0 {
		currentHash := w.pos.Hash
		count := 0
		for i := 0; i < w.posHistoryLen; i++ {
			if w.posHistoryBuffer[i] == currentHash {
				count++
				if count >= 2 {
					return true
				}
			}
		}
	}

	return false
}

// negamax is the search core: alpha-beta with PVS re-search, null-move
// pruning, razoring, static-null (reverse futility), ProbCut, futility
// pruning, Late Move Pruning, SEE-gated pruning, Late Move Reductions and a
// singular-extension test on the transposition move. inRoot and inPV mark
// the root node and nodes searched with alpha<beta-1 respectively; there is
// no excluded-move parameter threaded through the recursion the way some
// engines do it - the singular-extension test runs its own small move loop
// below instead of recursing with an exclusion.
func (w *Worker) negamax(inRoot, inPV bool, alpha, beta, depth, ply int, prevMove board.Move, lastWasNull bool, inCheck bool) int {
	// Bounds check to prevent array overflow (can happen with high depth + extensions)
	if ply >= MaxPly-1 {
		return w.evaluate()
	}

	if w.nodes&4095 == 0 && w.stopFlag.Load() {
		return 0
	}
	w.nodes++

	w.pv.length[ply] = ply

	if !inRoot && w.isDraw() {
		return 0
	}

	// Probe transposition table
	var ttMove board.Move
	ttPv := false
	ttEntry, found := w.tt.Probe(w.pos.Hash)
	if found {
		ttMove = ttEntry.BestMove
		ttPv = ttEntry.PV

		if ttMove != board.NoMove && !w.pos.PseudoLegal(ttMove) {
			ttMove = board.NoMove
		}

		// Multi-PV: don't use TT cutoffs at root if TT move is excluded
		ttCutoffAllowed := !inRoot || !w.isExcludedRootMove(ttMove)

		if !inPV && int(ttEntry.Depth) >= depth && ttCutoffAllowed {
			score := AdjustScoreFromTT(int(ttEntry.Score), ply)
			switch ttEntry.Flag {
			case TTExact:
				if inRoot && ttMove != board.NoMove {
					w.pv.moves[0][0] = ttMove
					w.pv.length[0] = 1
				}
				return score
			case TTLowerBound:
				if score > alpha {
					alpha = score
				}
			case TTUpperBound:
				if score < beta {
					beta = score
				}
			}
			if alpha >= beta {
				if inRoot && ttMove != board.NoMove {
					w.pv.moves[0][0] = ttMove
					w.pv.length[0] = 1
				}
				return score
			}
		}
	}

	if depth <= 0 {
		return w.quiescence(ply, alpha, beta)
	}

	rawEval := w.evaluate()
	staticEval := rawEval
	w.evalStack[ply] = staticEval

	improving := false
	if ply >= 2 {
		improving = staticEval > w.evalStack[ply-2]
	}

	// Static-null (reverse futility) pruning.
	if !inCheck && !inPV && depth < staticNullMaxDepth {
		if staticEval-staticNullMargin*depth > beta {
			return beta
		}
	}

	// Razoring.
	if !inCheck && !inPV && depth < razoringMaxDepth {
		if staticEval+razoringMargin < alpha {
			score := w.quiescence(ply, alpha, beta)
			if score <= alpha {
				return score
			}
		}
	}

	// Null move pruning. Never two nulls in a row, never in check, never
	// in a PV node, and never with only king+pawns left (zugzwang risk).
	if !inCheck && !inPV && !lastWasNull && depth >= 3 && w.pos.HasNonPawnMaterial() {
		R := (13+depth)/4 + minInt(3, (staticEval-beta)/185)
		if R > depth-1 {
			R = depth - 1
		}
		if R >= 1 {
			nullUndo := w.pos.MakeNullMove()
			nullScore := -w.negamax(false, false, -beta, -beta+1, depth-1-R, ply+1, board.NoMove, true, false)
			w.pos.UnmakeNullMove(nullUndo)

			if nullScore >= beta {
				if abs(nullScore) < MateScore-MaxPly {
					return nullScore
				}
				// Near-mate scores are unreliable under null move; verify
				// with a reduced-depth search of this same position (using
				// the next ply's stack slots) before trusting it.
				verify := w.negamax(false, false, alpha, beta, depth-1-R, ply+1, prevMove, false, inCheck)
				if verify >= beta {
					return verify
				}
			}
		}
	}

	// ProbCut: a shallow, SEE-gated search of captures that beats a raised
	// beta by a margin strongly suggests the real search would too.
	if !inCheck && !inPV && depth > probcutMinDepth && abs(beta) < MateScore-MaxPly {
		probcutBeta := beta + probcutMargin
		if probcutBeta < MateScore {
			probcutDepth := depth - 4
			captures := w.pos.GenerateCaptures()
			seeThreshold := probcutBeta - staticEval
			for i := 0; i < captures.Len(); i++ {
				capture := captures.Get(i)
				if SEE(w.pos, capture) < seeThreshold {
					continue
				}

				undo := w.pos.MakeMove(capture)
				if !undo.Valid {
					w.pos.UnmakeMove(capture, undo)
					continue
				}

				score := -w.quiescence(ply+1, -probcutBeta, -probcutBeta+1)
				if score >= probcutBeta {
					score = -w.negamax(false, false, -probcutBeta, -probcutBeta+1, probcutDepth, ply+1, capture, false, false)
				}
				w.pos.UnmakeMove(capture, undo)

				if score >= probcutBeta {
					return score
				}
			}
		}
	}

	// Futility pruning flag: a static eval far enough below alpha means no
	// quiet move at this depth is going to raise it.
	pruneQuietMoves := false
	if !inCheck && !inPV && depth <= 7 {
		if staticEval+futilityMargin*depth+futilityBase <= alpha {
			pruneQuietMoves = true
		}
	}

	// Singular extension: if the TT move is far ahead of everything else at
	// a reduced depth, it is worth extending by a ply. Run as a small local
	// move loop over the alternatives rather than a recursive exclusion.
	singularExtension := 0
	if depth >= singularMinDepth && !inRoot && ttMove != board.NoMove && found &&
		ttEntry.Flag == TTLowerBound && int(ttEntry.Depth) >= depth-2 {
		xbeta := AdjustScoreFromTT(int(ttEntry.Score), ply) - 2*depth
		singularDepth := depth/2 - 1

		alternatives := w.pos.GenerateLegalMoves()
		bestAlt := -Infinity
		for i := 0; i < alternatives.Len(); i++ {
			mx := alternatives.Get(i)
			if mx == ttMove {
				continue
			}
			undo := w.pos.MakeMove(mx)
			if !undo.Valid {
				w.pos.UnmakeMove(mx, undo)
				continue
			}
			score := -w.negamax(false, false, -xbeta-1, -xbeta, singularDepth, ply+1, mx, false, w.pos.InCheck())
			w.pos.UnmakeMove(mx, undo)
			if score > bestAlt {
				bestAlt = score
			}
			if score >= xbeta {
				break
			}
		}
		if bestAlt < xbeta {
			singularExtension = 1
		}
	}

	// Check extension.
	extension := 0
	if inCheck {
		extension = 1
	}

	// Staged, lazy move generation: captures/killers/counter move are tried
	// before quiets are ever generated, so a cutoff found early never pays
	// for generating or scoring the quiet move list.
	killer1, killer2 := w.orderer.Killers(ply)
	counterMove := w.orderer.GetCounterMove(prevMove, w.pos)
	picker := NewMovePicker(w.pos, w.orderer, ply, ttMove, killer1, killer2, counterMove)

	// ABDADA: at non-root, non-PV nodes with depth at least the configured
	// cutoff-check depth, a sibling worker may have resolved this node since
	// the TT was probed above; recheck once before the move loop. The
	// recheck does not depend on whether any move has been deferred.
	if !inRoot && !inPV && depth >= w.cutoffCheckDepth {
		if e2, ok2 := w.tt.Probe(w.pos.Hash); ok2 && int(e2.Depth) >= depth {
			score := AdjustScoreFromTT(int(e2.Score), ply)
			switch e2.Flag {
			case TTExact:
				return score
			case TTLowerBound:
				if score >= beta {
					return score
				}
			case TTUpperBound:
				if score <= alpha {
					return score
				}
			}
		}
	}

	bestScore := -Infinity
	bestMove := board.NoMove
	firstMoveSeen := board.NoMove
	flag := TTUpperBound
	movesSearched := 0
	w.playedMoves[ply] = w.playedMoves[ply][:0]

	for {
		skipQuiets := pruneQuietMoves && bestMove != board.NoMove
		move, ok := picker.Next(skipQuiets)
		if !ok {
			break
		}
		if firstMoveSeen == board.NoMove {
			firstMoveSeen = move
		}

		// Multi-PV: skip excluded moves at root
		if inRoot && w.isExcludedRootMove(move) {
			continue
		}

		isCapture := move.IsCapture(w.pos)
		isPromotion := move.IsPromotion()
		isTactical := isCapture || isPromotion

		// Futility pruning (in move loop).
		if pruneQuietMoves && !isTactical && bestMove != board.NoMove {
			continue
		}

		// SEE-gated pruning: tactical and quiet moves use different slopes,
		// per the spec's single gate formula.
		if !inCheck && movesSearched > 0 && move != ttMove {
			var seeThreshold int
			if isTactical {
				seeThreshold = -100 * depth
			} else {
				seeThreshold = -10 * depth * depth
			}
			if SEE(w.pos, move) < seeThreshold {
				continue
			}
		}

		// Late Move Pruning.
		if depth <= 7 && depth >= 1 && !inCheck && movesSearched > 0 && !isTactical && move != ttMove {
			threshold := lmpThreshold[depth]
			if !improving {
				threshold = threshold * 2 / 3
			}
			if movesSearched >= threshold {
				continue
			}
		}

		// ABDADA: if another worker already appears to be searching this
		// exact (position, move) at >= this depth, defer it to the end of
		// this node's move list instead of duplicating the work now. The
		// deferred stage retries it unconditionally once every other move
		// is exhausted, so a stale or missed busy-table entry only costs
		// move-ordering effort, never correctness.
		if w.busyTable != nil && depth >= w.abdadaDepth && movesSearched > 0 {
			if w.busyTable.IsBusy(w.pos.Hash, uint16(move), depth) {
				picker.PushDeferred(move)
				continue
			}
		}

		movingPiece := w.pos.PieceAt(move.From())
		if movingPiece == board.NoPiece || movingPiece.Color() != w.pos.SideToMove {
			continue
		}

		hashBeforeMove := w.pos.Hash

		w.undoStack[ply] = w.pos.MakeMove(move)
		if !w.undoStack[ply].Valid {
			w.pos.UnmakeMove(move, w.undoStack[ply])
			continue
		}

		w.posHistoryBuffer[w.posHistoryLen] = w.pos.Hash
		w.posHistoryLen++
		movesSearched++
		if !isTactical {
			w.playedMoves[ply] = append(w.playedMoves[ply], move)
		}

		childInCheck := w.pos.InCheck()
		newDepth := depth - 1 + extension
		if move == ttMove {
			newDepth += singularExtension
		}

		abdadaTrack := w.busyTable != nil && depth >= w.abdadaDepth
		if abdadaTrack {
			w.busyTable.SetBusy(hashBeforeMove, uint16(move), depth)
		}

		var score int
		if movesSearched > 1 && depth >= 3 && !inCheck && !isTactical {
			d := minInt(depth, 63)
			m := minInt(movesSearched, 63)
			reduction := lmrReductions[d][m]

			if !improving {
				reduction++
			}
			if move == ttMove {
				reduction -= 2
			}
			if ttPv {
				reduction--
			}
			if reduction < 0 {
				reduction = 0
			}

			reducedDepth := newDepth - reduction
			if reducedDepth < 1 {
				reducedDepth = 1
			}

			score = -w.negamax(false, false, -alpha-1, -alpha, reducedDepth, ply+1, move, false, childInCheck)
			if score > alpha && reducedDepth < newDepth {
				score = -w.negamax(false, false, -alpha-1, -alpha, newDepth, ply+1, move, false, childInCheck)
			}
			if score > alpha && score < beta {
				score = -w.negamax(false, true, -beta, -alpha, newDepth, ply+1, move, false, childInCheck)
			}
		} else if movesSearched == 1 {
			score = -w.negamax(false, inPV, -beta, -alpha, newDepth, ply+1, move, false, childInCheck)
		} else {
			score = -w.negamax(false, false, -alpha-1, -alpha, newDepth, ply+1, move, false, childInCheck)
			if score > alpha && score < beta {
				score = -w.negamax(false, true, -beta, -alpha, newDepth, ply+1, move, false, childInCheck)
			}
		}

		if abdadaTrack {
			w.busyTable.ClearBusy(hashBeforeMove, uint16(move), depth)
		}

		w.posHistoryLen--
		w.pos.UnmakeMove(move, w.undoStack[ply])

		if w.stopFlag.Load() {
			return 0
		}

		if score > bestScore {
			bestScore = score
			bestMove = move

			if score > alpha {
				alpha = score
				flag = TTExact

				w.pv.moves[ply][ply] = move
				for j := ply + 1; j < w.pv.length[ply+1]; j++ {
					w.pv.moves[ply][j] = w.pv.moves[ply+1][j]
				}
				w.pv.length[ply] = w.pv.length[ply+1]
			}
		}

		if score >= beta {
			if inRoot && bestMove != board.NoMove {
				w.pv.moves[0][0] = bestMove
				w.pv.length[0] = 1
			}

			w.tt.Store(w.pos.Hash, depth, AdjustScoreToTT(score, ply), TTLowerBound, bestMove, false)
			w.updateHistory(move, isCapture, isPromotion, depth, ply, prevMove, movingPiece, move.To())

			return score
		}
	}

	// No legal move was ever offered by the picker: checkmate or stalemate.
	if firstMoveSeen == board.NoMove {
		if inCheck {
			return -MateScore + ply
		}
		return 0
	}

	// Safety fallback: every legal move was pruned/excluded this node (e.g.
	// MultiPV root exclusion exhausted the move list) but moves did exist.
	if bestMove == board.NoMove {
		bestMove = firstMoveSeen
		if bestScore == -Infinity {
			bestScore = alpha
		}
	}

	isPV := flag == TTExact
	w.tt.Store(w.pos.Hash, depth, AdjustScoreToTT(bestScore, ply), flag, bestMove, isPV)

	return bestScore
}

// updateHistory records the cutoff move as a killer/counter/history success
// and applies the small malus to every other quiet move already tried at
// this ply, matching the original engine's post-cutoff bookkeeping.
func (w *Worker) updateHistory(move board.Move, isCapture, isPromotion bool, depth, ply int, prevMove board.Move, movingPiece board.Piece, to board.Square) {
	if isCapture {
		attackerPiece := movingPiece
		var capturedType board.PieceType
		if move.IsEnPassant() {
			capturedType = board.Pawn
		} else {
			capturedPiece := w.pos.PieceAt(move.To())
			if capturedPiece != board.NoPiece {
				capturedType = capturedPiece.Type()
			}
		}
		w.orderer.UpdateCaptureHistory(attackerPiece, move.To(), capturedType, depth, true)
		return
	}

	w.orderer.UpdateKillers(move, ply)
	w.orderer.UpdateHistory(move, depth, true)

	bonus := depth * depth
	w.sharedHistory.Update(int(move.From()), int(move.To()), bonus)
	w.orderer.UpdateCounterMove(prevMove, move, w.pos)

	if prevMove != board.NoMove {
		prevPiece := w.pos.PieceAt(prevMove.To())
		movePiece := movingPiece
		w.orderer.UpdateCountermoveHistory(prevMove, move, prevPiece, movePiece, depth, true)
	}

	// Decay history for every other quiet move tried and rejected at this
	// ply, the played-but-not-best moves that made the cutoff look good.
	for _, played := range w.playedMoves[ply] {
		if played == move {
			continue
		}
		w.orderer.UpdateHistory(played, depth, false)
		w.sharedHistory.Update(int(played.From()), int(played.To()), -bonus/10)
	}
}

// quiescence searches captures to avoid horizon effect.
func (w *Worker) quiescence(ply int, alpha, beta int) int {
	return w.quiescenceInternal(ply, 0, alpha, beta)
}

// quiescenceInternal is the internal quiescence search with qPly tracking:
// TT probe, in-check handling (full evasion search, no stand pat), and
// SEE/delta-gated capture search otherwise.
func (w *Worker) quiescenceInternal(ply, qPly int, alpha, beta int) int {
	const maxQuiescencePly = 32
	if ply >= MaxPly || qPly > maxQuiescencePly {
		return w.evaluate()
	}

	if w.stopFlag.Load() {
		return 0
	}

	w.nodes++
	originalAlpha := alpha

	var ttMove board.Move
	ttEntry, ttHit := w.tt.Probe(w.pos.Hash)
	if ttHit {
		ttMove = ttEntry.BestMove
		if ttMove != board.NoMove && !w.pos.PseudoLegal(ttMove) {
			ttMove = board.NoMove
		}
		if ttEntry.Depth >= 0 {
			score := AdjustScoreFromTT(int(ttEntry.Score), ply)
			switch ttEntry.Flag {
			case TTExact:
				return score
			case TTLowerBound:
				if score >= beta {
					return score
				}
			case TTUpperBound:
				if score <= alpha {
					return score
				}
			}
		}
	}

	inCheck := w.pos.InCheck()

	var standPat, bestValue int
	var bestMove board.Move

	if inCheck {
		bestValue = -MateScore + ply
		standPat = bestValue
	} else {
		standPat = w.evaluate()
		bestValue = standPat

		if standPat >= beta {
			w.tt.Store(w.pos.Hash, 0, AdjustScoreToTT(standPat, ply), TTLowerBound, board.NoMove, false)
			return beta
		}

		if standPat > alpha {
			alpha = standPat
		}

		if standPat+QueenValue < alpha {
			return alpha
		}
	}

	var moves *board.MoveList
	if inCheck {
		moves = w.pos.GenerateLegalMoves()
	} else {
		moves = w.pos.GenerateCaptures()
	}

	scores := w.orderer.ScoreMoves(w.pos, moves, ply, ttMove)

	for i := 0; i < moves.Len(); i++ {
		PickMove(moves, scores, i)
		move := moves.Get(i)

		if !inCheck && move.IsCapture(w.pos) {
			captureValue := qsCaptureValue(w.pos, move)
			fb := standPat + 351

			if standPat+captureValue+200 < alpha && !move.IsPromotion() {
				if captureValue+fb > bestValue {
					bestValue = captureValue + fb
				}
				continue
			}

			seeValue := SEE(w.pos, move)
			if seeValue < 0 {
				continue
			}

			if fb+seeValue <= alpha {
				if fb > bestValue {
					bestValue = fb
				}
				continue
			}
		}

		undo := w.pos.MakeMove(move)
		if !undo.Valid {
			w.pos.UnmakeMove(move, undo)
			continue
		}

		score := -w.quiescenceInternal(ply+1, qPly+1, -beta, -alpha)
		w.pos.UnmakeMove(move, undo)

		if score > bestValue {
			bestValue = score
			bestMove = move

			if score > alpha {
				alpha = score
				if score >= beta {
					break
				}
			}
		}
	}

	if inCheck && bestValue == -MateScore+ply {
		return -MateScore + ply
	}

	var ttFlag TTFlag
	if bestValue >= beta {
		ttFlag = TTLowerBound
	} else if bestValue > originalAlpha {
		ttFlag = TTExact
	} else {
		ttFlag = TTUpperBound
	}
	w.tt.Store(w.pos.Hash, 0, AdjustScoreToTT(bestValue, ply), ttFlag, bestMove, false)

	return bestValue
}

// qsCaptureValue returns the material value of a capture for QS pruning.
func qsCaptureValue(pos *board.Position, move board.Move) int {
	var value int
	if move.IsEnPassant() {
		value = PawnValue
	} else {
		captured := pos.PieceAt(move.To())
		if captured != board.NoPiece {
			value = pieceValues[captured.Type()]
		}
	}
	if move.IsPromotion() {
		value += pieceValues[move.Promotion()] - PawnValue
	}
	return value
}
