package collector

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sawpanic/fundingedge/internal/ops"
	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/venue"
)

// AdapterFactory builds the poll/stream adapter pair for a venue. Kept as an
// interface seam so the fleet doesn't import the adapters package directly,
// avoiding an import cycle with the collector package adapters depend on.
type AdapterFactory func(v venue.Tag, client *http.Client) (PollAdapter, StreamAdapter)

// Fleet owns one Worker per venue and the shared resources they all read
// from (§4.3: "one long-lived, self-healing worker per venue").
type Fleet struct {
	workers map[venue.Tag]*Worker
	cancel  map[venue.Tag]context.CancelFunc
	wg      sync.WaitGroup
}

// NewFleet constructs a worker for every venue in venue.All.
func NewFleet(snapshots persistence.SnapshotRepo, statuses persistence.CollectorStatusRepo, httpClient *http.Client, factory AdapterFactory, log zerolog.Logger) *Fleet {
	f := &Fleet{
		workers: make(map[venue.Tag]*Worker, len(venue.All)),
		cancel:  make(map[venue.Tag]context.CancelFunc, len(venue.All)),
	}
	for _, v := range venue.All {
		poll, stream := factory(v, httpClient)
		f.workers[v] = NewWorker(v, snapshots, statuses, poll, stream, log)
	}
	return f
}

// StartAll launches every worker's actor loop and implicitly starts its
// collection loop (§4.3: the first request on any path except stop starts
// the collector). A venue disabled via switches still gets its actor loop
// launched (so `collector start <venue>` can bring it up later) but is not
// sent the initial CmdStart.
func (f *Fleet) StartAll(ctx context.Context, switches *ops.SwitchManager) {
	for v, w := range f.workers {
		loopCtx, cancel := context.WithCancel(ctx)
		f.cancel[v] = cancel
		f.wg.Add(1)
		go func(w *Worker) {
			defer f.wg.Done()
			w.Serve(loopCtx)
		}(w)
		if switches == nil || switches.IsVenueEnabled(v) {
			w.Send(ctx, CmdStart)
		}
	}
}

// Wait blocks until every worker's Serve loop has returned.
func (f *Fleet) Wait() { f.wg.Wait() }

// StopAll cancels every worker's loop and waits for shutdown.
func (f *Fleet) StopAll() {
	for _, cancel := range f.cancel {
		cancel()
	}
	f.wg.Wait()
}

// Worker returns the worker for v, or an error if v is not in the fleet.
func (f *Fleet) Worker(v venue.Tag) (*Worker, error) {
	w, ok := f.workers[v]
	if !ok {
		return nil, fmt.Errorf("unknown venue %q", v)
	}
	return w, nil
}

// Venues lists every venue the fleet manages, in registry order.
func (f *Fleet) Venues() []venue.Tag { return venue.All }
