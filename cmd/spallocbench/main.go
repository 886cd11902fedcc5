// Command spallocbench drives a pool.Pool with randomized concurrent
// allocate/free cycles and reports aggregate throughput and allocation,
// free and error counts, in the tradition of the teacher's disk-allocator stress test
// and memory-pool demo it replaces.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MLV-WIP/slab-pool-allocator/pool"
)

// benchStats mirrors the teacher's PoolStats/TestResult fields, reworked
// around the real Pool's allocate/deallocate contract instead of the
// teacher's offset-bookkeeping allocator.
type benchStats struct {
	mu          sync.Mutex
	allocations uint64
	frees       uint64
	errors      uint64
}

func (s *benchStats) recordAllocate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errors++
		return
	}
	s.allocations++
}

func (s *benchStats) recordFree() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frees++
}

func (s *benchStats) snapshot() (allocations, frees, errors uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocations, s.frees, s.errors
}

func runBench(workers, opsPerWorker int, minSize, maxSize uintptr) *benchStats {
	reg := prometheus.NewRegistry()
	p := pool.New(pool.WithMetrics(reg))

	stats := &benchStats{}
	var g errgroup.Group

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))

			var held []unsafe.Pointer
			for i := 0; i < opsPerWorker; i++ {
				if len(held) == 0 || rng.Float64() < 0.7 {
					size := minSize + uintptr(rng.Int63n(int64(maxSize-minSize+1)))
					ptr, err := p.Allocate(size, 0)
					stats.recordAllocate(err)
					if err == nil {
						held = append(held, ptr)
					}
					continue
				}

				idx := rng.Intn(len(held))
				ptr := held[idx]
				held[idx] = held[len(held)-1]
				held = held[:len(held)-1]
				p.Deallocate(ptr)
				stats.recordFree()
			}

			for _, ptr := range held {
				p.Deallocate(ptr)
				stats.recordFree()
			}
			return nil
		})
	}
	_ = g.Wait()
	return stats
}

func newRootCmd() *cobra.Command {
	var workers int
	var opsPerWorker int
	var minSize, maxSize uint64

	cmd := &cobra.Command{
		Use:   "spallocbench",
		Short: "Stress the slab pool allocator with concurrent allocate/free cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if minSize == 0 || maxSize < minSize {
				return fmt.Errorf("invalid size range [%d, %d]", minSize, maxSize)
			}

			start := time.Now()
			stats := runBench(workers, opsPerWorker, uintptr(minSize), uintptr(maxSize))
			duration := time.Since(start)

			allocations, frees, errs := stats.snapshot()
			fmt.Printf("workers:       %d\n", workers)
			fmt.Printf("ops/worker:    %d\n", opsPerWorker)
			fmt.Printf("size range:    [%d, %d] bytes\n", minSize, maxSize)
			fmt.Printf("allocations:   %d\n", allocations)
			fmt.Printf("frees:         %d\n", frees)
			fmt.Printf("errors:        %d\n", errs)
			fmt.Printf("duration:      %v\n", duration)
			fmt.Printf("ops/sec:       %.0f\n", float64(allocations+frees)/duration.Seconds())
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 10, "number of concurrent goroutines")
	cmd.Flags().IntVar(&opsPerWorker, "ops", 100000, "allocate/free operations per worker")
	cmd.Flags().Uint64Var(&minSize, "min-size", 16, "minimum requested allocation size in bytes")
	cmd.Flags().Uint64Var(&maxSize, "max-size", 32000, "maximum requested allocation size in bytes")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
