package fleet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/holocommander/internal/device"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
)

// Op is one command run against a device by Broadcast.
type Op func(ctx context.Context, m *device.Monitor) error

// Result is the outcome of an Op on one device.
type Result struct {
	Device   string
	Err      error
	Duration time.Duration
}

// Broadcast runs op on the named devices, or on every device when names is
// empty, with at most the configured number running at once. Results follow
// the order of names (sorted for the whole fleet). Unknown names yield a
// NotFound result. Devices not yet started when ctx is done report ctx.Err().
func (f *Fleet) Broadcast(ctx context.Context, names []string, op Op) []Result {
	if len(names) == 0 {
		names = f.Names()
	}

	f.mu.RLock()
	limit := f.concurrency
	f.mu.RUnlock()

	results := make([]Result, len(names))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, name := range names {
		results[i].Device = name
		m, ok := f.Get(name)
		if !ok {
			results[i].Err = unknownDevice(name)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i].Err = ctx.Err()
			continue
		}

		wg.Add(1)
		go func(r *Result, m *device.Monitor) {
			defer wg.Done()
			defer func() { <-sem }()
			start := time.Now()
			r.Err = op(ctx, m)
			r.Duration = time.Since(start)
			if r.Err != nil {
				slog.Debug("Broadcast operation failed", logfields.Device(r.Device), logfields.Error(r.Err))
			}
		}(&results[i], m)
	}

	wg.Wait()
	return results
}

// Failed returns the results carrying an error.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
