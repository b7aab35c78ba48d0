package collector

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sawpanic/fundingedge/internal/persistence"
	"github.com/sawpanic/fundingedge/internal/venue"
)

const maxReconnectAttempts = 10

// transportEvent is how a running poll/stream loop reports back to the
// worker's owning actor goroutine, the sole writer of buffer/counters/status
// (§3 Ownership, §9).
type transportEvent struct {
	updates      []MarketUpdate
	err          error
	reconnecting bool
	failed       bool // reconnect attempts exhausted; transitions to `failed`
	flush        bool // true for a polling tick's full batch; false for one streamed message
}

// Worker is the long-lived, self-healing actor for one venue (§4.3).
type Worker struct {
	Venue venue.Tag
	cfg   venue.Config

	snapshots persistence.SnapshotRepo
	statuses  persistence.CollectorStatusRepo

	poll   PollAdapter
	stream StreamAdapter

	log     zerolog.Logger // scoped to the current run; reset on every start()
	baseLog zerolog.Logger // unscoped, venue-tagged logger start() derives from

	cmdCh   chan Command
	eventCh chan transportEvent

	buf      *Buffer
	counters Counters
	status   persistence.CollectorStatusTag
	lastErr  string
	runID    string

	running    bool
	loopCancel context.CancelFunc
}

// NewWorker builds a worker for v. Exactly one of poll/stream should be
// non-nil, matching cfg.Transport.
func NewWorker(v venue.Tag, snapshots persistence.SnapshotRepo, statuses persistence.CollectorStatusRepo, poll PollAdapter, stream StreamAdapter, log zerolog.Logger) *Worker {
	scoped := log.With().Str("venue", string(v)).Logger()
	return &Worker{
		Venue:     v,
		cfg:       venueConfig(v),
		snapshots: snapshots,
		statuses:  statuses,
		poll:      poll,
		stream:    stream,
		log:       scoped,
		baseLog:   scoped,
		cmdCh:     make(chan Command, 4),
		eventCh:   make(chan transportEvent, 32),
		buf:       NewBuffer(),
		status:    persistence.StatusStopped,
	}
}

// Send delivers a command to the worker and blocks for its reply.
func (w *Worker) Send(ctx context.Context, kind CommandKind) (CommandResult, error) {
	reply := make(chan CommandResult, 1)
	select {
	case w.cmdCh <- Command{Kind: kind, Reply: reply}:
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, res.Err
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

// Serve runs the worker's actor loop until ctx is cancelled. Call exactly
// once per worker; the fleet manager launches it in its own goroutine.
func (w *Worker) Serve(ctx context.Context) {
	flushTimer := time.NewTimer(alignToGrid(time.Now()))
	defer flushTimer.Stop()

	statusTicker := time.NewTicker(30 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.stop()
			return

		case cmd := <-w.cmdCh:
			w.handleCommand(ctx, cmd)

		case ev := <-w.eventCh:
			w.applyEvent(ctx, ev)

		case <-flushTimer.C:
			if w.running && venue.Streaming(w.Venue) {
				w.flush(ctx)
			}
			flushTimer.Reset(15 * time.Second)

		case <-statusTicker.C:
			if w.running {
				w.reportStatus(ctx)
			}
		}
	}
}

func (w *Worker) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CmdStop:
		w.stop()
		w.reportStatus(ctx)
		cmd.Reply <- CommandResult{Status: w.snapshotStatus()}
	case CmdStart:
		w.start(ctx)
		cmd.Reply <- CommandResult{Status: w.snapshotStatus()}
	case CmdStatus:
		// The first request on any path except stop implicitly starts the
		// collector (§4.3).
		w.start(ctx)
		cmd.Reply <- CommandResult{Status: w.snapshotStatus()}
	case CmdDebug:
		w.start(ctx)
		cmd.Reply <- CommandResult{Debug: DebugInfo{
			Venue:           string(w.Venue),
			RunID:           w.runID,
			BufferedSymbols: w.buf.Len(),
			Counters:        w.counters,
			Running:         w.running,
		}}
	}
}

func (w *Worker) start(ctx context.Context) {
	if w.running {
		return
	}
	w.running = true
	if w.status == persistence.StatusStopped || w.status == persistence.StatusFailed {
		w.status = persistence.StatusRunning
	}
	w.counters.ReconnectAttempts = 0

	// Each start() begins a new run; tag it so every log line this run
	// emits can be correlated even across a reconnect/restart cycle (§4.3).
	w.runID = uuid.NewString()
	w.log = w.baseLog.With().Str("run_id", w.runID).Logger()

	loopCtx, cancel := context.WithCancel(ctx)
	w.loopCancel = cancel

	if venue.Streaming(w.Venue) {
		go runStreaming(loopCtx, w)
	} else {
		go runPolling(loopCtx, w)
	}
}

func (w *Worker) stop() {
	if !w.running {
		return
	}
	w.running = false
	if w.loopCancel != nil {
		w.loopCancel()
	}
	w.status = persistence.StatusStopped
}

func (w *Worker) applyEvent(ctx context.Context, ev transportEvent) {
	w.counters.LastPollTime = time.Now()

	if ev.err != nil {
		w.lastErr = ev.err.Error()
		w.log.Warn().Err(ev.err).Bool("reconnecting", ev.reconnecting).Msg("collector transport error")

		switch {
		case ev.failed:
			w.status = persistence.StatusFailed
			w.running = false
			if w.loopCancel != nil {
				w.loopCancel()
			}
		case ev.reconnecting:
			w.counters.ReconnectAttempts++
			w.status = persistence.StatusError
		default:
			w.status = persistence.StatusError
		}
		w.reportStatus(ctx)
		return
	}

	if len(ev.updates) > 0 {
		w.buf.PutAll(ev.updates)
		w.counters.LastSuccessTime = time.Now()
		if venue.Streaming(w.Venue) {
			w.status = persistence.StatusConnected
		} else {
			w.status = persistence.StatusRunning
		}
	}

	if ev.flush {
		w.flush(ctx)
	}
}

// flush persists the buffer as one atomic batch of snapshots sharing a
// single recorded-at timestamp, then clears it (§4.3, §4.4).
func (w *Worker) flush(ctx context.Context) {
	updates := w.buf.Drain()
	if len(updates) == 0 {
		return
	}

	recordedAt := time.Now().UnixMilli()
	rows := make([]persistence.Snapshot, 0, len(updates))
	for _, u := range updates {
		interval := u.IntervalHours
		if interval <= 0 {
			interval = w.cfg.FundingIntervalHours
		}
		rows = append(rows, persistence.Snapshot{
			Venue:            string(w.Venue),
			OriginalSymbol:   u.OriginalSymbol,
			MarkPrice:        u.MarkPrice,
			IndexPrice:       u.IndexPrice,
			OpenInterest:     u.OpenInterest,
			OpenInterestUSD:  u.MarkPrice * u.OpenInterest,
			LastPrice:        u.LastPrice,
			RawFundingRate:   u.RawFundingRate,
			FundingIntervalH: interval,
			Volume24hBase:    u.Volume24hBase,
			Volume24hQuote:   u.Volume24hQuote,
			Low24h:           u.Low24h,
			High24h:          u.High24h,
			Change24hPercent: u.Change24hPercent,
			RecordedAtMs:     recordedAt,
		})
	}

	if err := w.snapshots.InsertBatch(ctx, rows); err != nil {
		w.log.Error().Err(err).Int("rows", len(rows)).Msg("snapshot flush failed")
		w.lastErr = err.Error()
		w.status = persistence.StatusError
		w.reportStatus(ctx)
		return
	}

	w.counters.SnapshotCount += int64(len(rows))
}

func (w *Worker) reportStatus(ctx context.Context) {
	if err := w.statuses.Upsert(ctx, w.snapshotStatus()); err != nil {
		w.log.Error().Err(err).Msg("collector status upsert failed")
	}
}

func (w *Worker) snapshotStatus() persistence.CollectorStatus {
	var lastMsg *time.Time
	if !w.counters.LastSuccessTime.IsZero() {
		t := w.counters.LastSuccessTime
		lastMsg = &t
	}
	return persistence.CollectorStatus{
		Venue:          string(w.Venue),
		Status:         w.status,
		LastMessageAt:  lastMsg,
		LastErrorMsg:   w.lastErr,
		ReconnectCount: w.counters.ReconnectAttempts,
		UpdatedAt:      time.Now(),
	}
}
