// Command memtrace-demo exercises the tracer end to end against a
// simulated arena: it allocates a handful of blocks, stores into and
// around them, frees some, and reports where the traced lines landed.
// It exists to give a reader something runnable rather than to be a
// faithful stand-in for instrumenting a real guest process.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dbitools/memtrace"
	"github.com/dbitools/memtrace/internal/interfaces"
	"github.com/dbitools/memtrace/internal/logging"
	"github.com/dbitools/memtrace/internal/sink"
	"github.com/dbitools/memtrace/internal/simalloc"
)

type demoHooks struct {
	tracer *memtrace.Tracer
}

func (h demoHooks) OnAlloc(start, size uint64, ctx interfaces.ContextHandle) {
	h.tracer.OnNewBlock(start, size, ctx)
}

func (h demoHooks) OnFree(start, size uint64, ctx interfaces.ContextHandle) {
	h.tracer.OnFreeBlock(start)
}

func main() {
	var (
		sizeStr  = flag.String("size", "16M", "Size of the simulated arena (e.g., 16M, 1G)")
		outPath  = flag.String("out", "memtrace.log", "Path to the trace output file")
		minBlock = flag.Uint64("min-block", 4096, "Minimum tracked block size in bytes")
		numOps   = flag.Int("ops", 2000, "Number of simulated alloc/store/free operations to replay")
		verbose  = flag.Bool("v", false, "Verbose logging")
		seed     = flag.Int64("seed", 1, "Random seed for the simulated operation sequence")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("invalid size %q: %v", *sizeStr, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	fileSink, err := sink.Open(*outPath)
	if err != nil {
		logger.Error("failed to open trace output", "path", *outPath, "error", err)
		os.Exit(1)
	}

	opts := memtrace.DefaultOptions(fileSink)
	opts.MinBlockSize = *minBlock
	opts.Logger = logger

	tracer, err := memtrace.New(opts)
	if err != nil {
		logger.Error("failed to create tracer", "error", err)
		os.Exit(1)
	}
	memtrace.SetDefault(tracer)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, flushing trace")
		if err := tracer.Shutdown(); err != nil {
			logger.Error("error during shutdown", "error", err)
		}
		os.Exit(0)
	}()

	arena := simalloc.NewArena(0x7f0000000000, uint64(size), demoHooks{tracer: tracer})

	logger.Info("replaying simulated operations", "arena_size", formatSize(size), "ops", *numOps)
	replay(arena, tracer, *numOps, *seed)

	if err := tracer.Shutdown(); err != nil {
		logger.Error("error flushing trace", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Trace written to %s\n", *outPath)
	snap := tracer.Metrics().Snapshot()
	fmt.Printf("Stores logged: %d, missed: %d, allocs: %d, frees: %d\n",
		snap.StoresLogged, snap.StoresMissed, snap.AllocEvents, snap.FreeEvents)
}

// replay drives a pseudo-random sequence of allocations, stores, and
// frees against arena, recording every live block's start so stores
// can be targeted inside and outside tracked blocks.
func replay(arena *simalloc.Arena, tracer *memtrace.Tracer, ops int, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	var live []uint64

	for i := 0; i < ops; i++ {
		switch {
		case len(live) == 0 || rng.Intn(3) == 0:
			size := uint64(64 << uint(rng.Intn(12))) // 64B .. 128KB
			start, err := arena.Alloc(size, fmt.Sprintf("demo.go:%d", i))
			if err != nil {
				continue
			}
			live = append(live, start)

		case rng.Intn(4) == 0:
			idx := rng.Intn(len(live))
			start := live[idx]
			if _, ok := arena.Free(start, nil); ok {
				live = append(live[:idx], live[idx+1:]...)
			}

		default:
			idx := rng.Intn(len(live))
			start := live[idx]
			tracer.OnStore(start+uint64(rng.Intn(32)), rng.Uint64())
		}
	}
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
