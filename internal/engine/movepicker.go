package engine

import (
	"github.com/hailam/chessplay/internal/board"
)

// pickerStage identifies the current stage of staged move generation.
type pickerStage int

const (
	stageTT pickerStage = iota
	stageGoodTactical
	stageKiller1
	stageKiller2
	stageCounter
	stageQuiets
	stageBadTactical
	stageDeferred
	stageDone
)

// MovePicker generates moves for a search node in stages, most-promising
// first, so that a beta cutoff found early (the common case) never pays for
// generating or scoring moves that were never going to be tried. Quiet moves
// in particular are not generated at all unless the quiet stage is reached
// and the caller has not set skipQuiets (e.g. because a futility condition
// already rules every quiet move out).
type MovePicker struct {
	pos     *board.Position
	orderer *MoveOrderer
	ply     int

	ttMove      board.Move
	killer1     board.Move
	killer2     board.Move
	counterMove board.Move

	stage pickerStage

	tactical       *board.MoveList
	tacticalScores []int
	tacticalIdx    int
	badTactical    []board.Move // captures with SEE < 0, deferred to stageBadTactical

	quiets       *board.MoveList
	quietScores  []int
	quietIdx     int
	quietsLoaded bool
	skipQuiets   bool

	deferred    []board.Move
	deferredIdx int

	tried map[board.Move]struct{}
}

// NewMovePicker creates a staged move generator for one search node.
func NewMovePicker(pos *board.Position, orderer *MoveOrderer, ply int, ttMove, killer1, killer2, counterMove board.Move) *MovePicker {
	mp := &MovePicker{
		pos:         pos,
		orderer:     orderer,
		ply:         ply,
		ttMove:      ttMove,
		killer1:     killer1,
		killer2:     killer2,
		counterMove: counterMove,
		tried:       make(map[board.Move]struct{}, 8),
	}
	if ttMove != board.NoMove && pos.PseudoLegal(ttMove) && pos.IsLegal(ttMove) {
		mp.stage = stageTT
	} else {
		mp.stage = stageGoodTactical
	}
	return mp
}

// PushDeferred adds a move that an ABDADA worker chose not to search now
// (because the busy table reported it as already in progress elsewhere) so
// the picker can offer it again, after everything else, should the node
// still need more moves once all non-busy candidates are exhausted.
func (mp *MovePicker) PushDeferred(m board.Move) {
	mp.deferred = append(mp.deferred, m)
}

func (mp *MovePicker) markTried(m board.Move) {
	mp.tried[m] = struct{}{}
}

func (mp *MovePicker) alreadyTried(m board.Move) bool {
	_, ok := mp.tried[m]
	return ok
}

func (mp *MovePicker) loadTactical() {
	if mp.tactical != nil {
		return
	}
	mp.tactical = mp.pos.GenerateCaptures()
	mp.tacticalScores = mp.orderer.ScoreMoves(mp.pos, mp.tactical, mp.ply, board.NoMove)
}

func (mp *MovePicker) loadQuiets() {
	if mp.quietsLoaded {
		return
	}
	mp.quietsLoaded = true
	all := mp.pos.GenerateLegalMoves()
	mp.quiets = board.NewMoveList()
	for i := 0; i < all.Len(); i++ {
		m := all.Get(i)
		if !m.IsCapture(mp.pos) {
			mp.quiets.Add(m)
		}
	}
	mp.quietScores = mp.orderer.ScoreMoves(mp.pos, mp.quiets, mp.ply, board.NoMove)
}

// Next returns the next move for this node and whether one was available.
// Quiet generation is skipped once skipQuiets is set and the quiet stage is
// reached, per the caller's own futility/LMP decision for this node.
func (mp *MovePicker) Next(skipQuiets bool) (board.Move, bool) {
	mp.skipQuiets = skipQuiets
	for {
		switch mp.stage {
		case stageTT:
			mp.stage = stageGoodTactical
			mp.markTried(mp.ttMove)
			return mp.ttMove, true

		case stageGoodTactical:
			mp.loadTactical()
			for mp.tacticalIdx < mp.tactical.Len() {
				PickMove(mp.tactical, mp.tacticalScores, mp.tacticalIdx)
				m := mp.tactical.Get(mp.tacticalIdx)
				mp.tacticalIdx++
				if mp.alreadyTried(m) {
					continue
				}
				if SEE(mp.pos, m) < 0 {
					mp.badTactical = append(mp.badTactical, m)
					continue
				}
				mp.markTried(m)
				return m, true
			}
			mp.stage = stageKiller1

		case stageKiller1:
			mp.stage = stageKiller2
			if mp.killer1 != board.NoMove && !mp.alreadyTried(mp.killer1) &&
				!mp.killer1.IsCapture(mp.pos) && mp.pos.PseudoLegal(mp.killer1) && mp.pos.IsLegal(mp.killer1) {
				mp.markTried(mp.killer1)
				return mp.killer1, true
			}

		case stageKiller2:
			mp.stage = stageCounter
			if mp.killer2 != board.NoMove && !mp.alreadyTried(mp.killer2) &&
				!mp.killer2.IsCapture(mp.pos) && mp.pos.PseudoLegal(mp.killer2) && mp.pos.IsLegal(mp.killer2) {
				mp.markTried(mp.killer2)
				return mp.killer2, true
			}

		case stageCounter:
			mp.stage = stageQuiets
			if mp.counterMove != board.NoMove && !mp.alreadyTried(mp.counterMove) &&
				!mp.counterMove.IsCapture(mp.pos) && mp.pos.PseudoLegal(mp.counterMove) && mp.pos.IsLegal(mp.counterMove) {
				mp.markTried(mp.counterMove)
				return mp.counterMove, true
			}

		case stageQuiets:
			if mp.skipQuiets {
				mp.stage = stageBadTactical
				continue
			}
			mp.loadQuiets()
			for mp.quietIdx < mp.quiets.Len() {
				PickMove(mp.quiets, mp.quietScores, mp.quietIdx)
				m := mp.quiets.Get(mp.quietIdx)
				mp.quietIdx++
				if mp.alreadyTried(m) {
					continue
				}
				mp.markTried(m)
				return m, true
			}
			mp.stage = stageBadTactical

		case stageBadTactical:
			if mp.tacticalIdx < mp.tactical.Len() {
				// Not all tactical moves were classified yet because an
				// earlier stage exited before exhausting them; fall back to
				// draining the rest into badTactical.
				PickMove(mp.tactical, mp.tacticalScores, mp.tacticalIdx)
				m := mp.tactical.Get(mp.tacticalIdx)
				mp.tacticalIdx++
				if !mp.alreadyTried(m) {
					mp.badTactical = append(mp.badTactical, m)
				}
				continue
			}
			if len(mp.badTactical) > 0 {
				m := mp.badTactical[0]
				mp.badTactical = mp.badTactical[1:]
				if mp.alreadyTried(m) {
					continue
				}
				mp.markTried(m)
				return m, true
			}
			mp.stage = stageDeferred

		case stageDeferred:
			// Deferred moves were already offered and marked tried once
			// (that's how the caller identified them as busy elsewhere), so
			// they must bypass alreadyTried here or they'd never come back.
			if mp.deferredIdx < len(mp.deferred) {
				m := mp.deferred[mp.deferredIdx]
				mp.deferredIdx++
				return m, true
			}
			mp.stage = stageDone
			return board.NoMove, false

		default:
			return board.NoMove, false
		}
	}
}
