package annotate

import (
	"context"
	"runtime"
	"sync"

	"github.com/inodb/vrs-registry/internal/vcf"
	"github.com/inodb/vrs-registry/internal/vrs"
)

// workItem holds a parsed variant ready for translation.
type workItem struct {
	seq     int
	variant *vcf.Variant
}

// workResult holds the per-slot translation output for a single row.
type workResult struct {
	seq        int
	variant    *vcf.Variant
	objects    []vrs.Object
	ids        []string
	starts     []string
	ends       []string
	states     []string
	lengths    []string
	repeats    []string
	errorSlots int
	err        error
}

// parallelTranslate translates work items using a pool of workers.
// Results arrive in completion order (not sequence order); use
// orderedCollect to consume them in sequence-number order.
func (a *Annotator) parallelTranslate(ctx context.Context, items <-chan workItem, opts Options) <-chan workResult {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan workResult, 2*workers)

	var wg sync.WaitGroup
	wg.Add(workers)

	for range workers {
		go func() {
			defer wg.Done()
			for item := range items {
				r := a.translateRow(ctx, item.variant, opts)
				r.seq = item.seq
				results <- r
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// orderedCollect calls fn for each result in sequence-number order.
// It buffers out-of-order results in a pending map and emits them
// as soon as the next expected sequence number is available.
// Blocks until the results channel is closed.
func orderedCollect(results <-chan workResult, fn func(workResult) error) error {
	pending := make(map[int]workResult)
	nextSeq := 0

	for r := range results {
		pending[r.seq] = r

		for {
			rr, ok := pending[nextSeq]
			if !ok {
				break
			}
			delete(pending, nextSeq)
			nextSeq++
			if err := fn(rr); err != nil {
				// Drain remaining results to unblock workers.
				for range results {
				}
				return err
			}
		}
	}

	return nil
}
