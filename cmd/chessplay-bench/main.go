// Command chessplay-bench drives perft and fixed-depth search benchmarks
// against the engine's Go API directly, bypassing the UCI text protocol
// entirely (the protocol itself is out of scope for this module).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/engine"
)

var (
	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to file")
	mode       = flag.String("mode", "perft", "benchmark mode: perft, perft2, or search")
	fen        = flag.String("fen", board.StartFEN, "FEN of the position to benchmark")
	depth      = flag.Int("depth", 5, "perft depth, or search depth for -mode=search")
	hashMB     = flag.Int("hash", 64, "transposition table size in MB (search mode only)")
	moveTime   = flag.Duration("movetime", 0, "time limit per move (search mode only, 0 = untimed)")
)

func main() {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatalf("could not create CPU profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("could not start CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	pos, err := board.ParseFEN(*fen)
	if err != nil {
		log.Fatalf("parse fen %q: %v", *fen, err)
	}

	eng := engine.NewEngine(*hashMB)

	switch *mode {
	case "perft":
		runPerft(eng, pos, eng.Perft)
	case "perft2":
		runPerft(eng, pos, eng.Perft2)
	case "search":
		runSearch(eng, pos)
	default:
		log.Fatalf("unknown -mode %q (want perft, perft2, or search)", *mode)
	}
}

func runPerft(eng *engine.Engine, pos *board.Position, fn func(*board.Position, int) uint64) {
	for d := 1; d <= *depth; d++ {
		start := time.Now()
		nodes := fn(pos, d)
		elapsed := time.Since(start)
		nps := float64(nodes) / elapsed.Seconds()
		fmt.Printf("depth %2d: %12d nodes  %10s  %12.0f nps\n", d, nodes, elapsed.Round(time.Millisecond), nps)
	}
}

func runSearch(eng *engine.Engine, pos *board.Position) {
	limits := engine.SearchLimits{
		Depth:    *depth,
		MoveTime: *moveTime,
	}

	eng.OnInfo = func(info engine.SearchInfo) {
		fmt.Printf("depth %2d score %-8s nodes %10d time %8s pv %v\n",
			info.Depth, engine.ScoreToString(info.Score), info.Nodes, info.Time.Round(time.Millisecond), info.PV)
	}

	start := time.Now()
	best := eng.SearchWithLimits(pos, limits)
	elapsed := time.Since(start)

	fmt.Printf("bestmove %s (%s)\n", best, elapsed.Round(time.Millisecond))
}
