package assist

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/tools"
)

// RunStatus is the lifecycle state of one run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	// StatusPartial means the turn cap was reached; the answer is best
	// effort rather than a confirmed final response.
	StatusPartial   RunStatus = "partial"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

const eventBufferSize = 64

// defaultRunRetention is how long a finished run stays queryable in the
// registry before eviction. Long-term records live in the history store.
const defaultRunRetention = time.Hour

// ExecutorFactory acquires a fresh tool-executor session. Each run owns one
// session for its whole lifetime and releases it when the run ends.
type ExecutorFactory func(ctx context.Context) (tools.Executor, error)

// RunnerConfig carries the per-deployment settings of the run controller.
type RunnerConfig struct {
	Model          string
	MaxTurns       int
	SchemaCacheTTL time.Duration
	RunTimeout     time.Duration

	// RunRetention is how long finished runs remain in the in-memory
	// registry; zero applies a default. Without eviction the registry
	// would grow by one run per request for the life of the process.
	RunRetention time.Duration
}

// Runner owns the in-memory registry of runs and wires each one through
// schema resolution and query conduction.
type Runner struct {
	gateway      llm.Gateway
	openExecutor ExecutorFactory
	cache        *redis.Client
	history      *history.Store
	cfg          RunnerConfig

	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRunner builds a run controller. cache and hist may be nil; schema
// caching and history recording are then skipped.
func NewRunner(gateway llm.Gateway, openExecutor ExecutorFactory, cache *redis.Client, hist *history.Store, cfg RunnerConfig) *Runner {
	return &Runner{
		gateway:      gateway,
		openExecutor: openExecutor,
		cache:        cache,
		history:      hist,
		cfg:          cfg,
		runs:         make(map[string]*Run),
	}
}

// Start registers a new run and launches it in the background.
func (r *Runner) Start(request string) (*Run, error) {
	if request == "" {
		return nil, errors.New("request text is empty")
	}

	run := &Run{
		ID:        uuid.NewString(),
		Request:   request,
		startedAt: time.Now(),
		status:    StatusRunning,
		events:    make(chan api.RunEvent, eventBufferSize),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.runs[run.ID] = run
	r.mu.Unlock()

	go r.execute(run)
	return run, nil
}

// Get looks up a run by id.
func (r *Runner) Get(id string) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	return run, ok
}

// execute is the body of one run. Cancellation is cooperative and advisory:
// the flag is consulted at the defined checkpoints only and never aborts an
// in-flight gateway or tool call.
func (r *Runner) execute(run *Run) {
	ctx := context.Background()
	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}

	run.emit(api.RunEvent{Type: api.EventRunStarted})

	// A cancel that lands before the run does anything must prevent every
	// gateway and executor call, including session acquisition.
	if run.cancelled.Load() {
		r.finish(run, StatusCancelled, "", nil)
		return
	}

	executor, err := r.openExecutor(ctx)
	if err != nil {
		r.finish(run, StatusFailed, "", err)
		return
	}
	// The session is scoped to this run and released on every path.
	defer func() {
		if err := executor.Close(); err != nil {
			log.Printf("WARNING: closing executor session for run %s: %v", run.ID, err)
		}
	}()

	catalog, err := executor.ListTools(ctx)
	if err != nil {
		r.finish(run, StatusFailed, "", err)
		return
	}

	// Checkpoint: before schema resolution.
	if run.cancelled.Load() {
		r.finish(run, StatusCancelled, "", nil)
		return
	}

	resolver := &Resolver{
		Gateway:  r.gateway,
		Model:    r.cfg.Model,
		MaxTurns: r.cfg.MaxTurns,
		Cache:    r.cache,
		CacheTTL: r.cfg.SchemaCacheTTL,
	}
	schemaInfo, err := resolver.Resolve(ctx, executor, catalog, run.Request)
	if err != nil {
		r.finish(run, StatusFailed, "", err)
		return
	}
	run.emit(api.RunEvent{Type: api.EventSchemaResolved, Text: schemaInfo})

	// Checkpoint: before query execution.
	if run.cancelled.Load() {
		r.finish(run, StatusCancelled, "", nil)
		return
	}

	conductor := &Conductor{
		Gateway:  r.gateway,
		Model:    r.cfg.Model,
		MaxTurns: r.cfg.MaxTurns,
		Observer: func(step QueryStep) {
			run.emit(api.RunEvent{Type: api.EventSQLProposed, SQL: step.SQL})
			event := api.RunEvent{Type: api.EventQueryResult}
			if step.Result.Table != nil {
				event.Table = step.Result.Table
			} else {
				event.Text = step.Result.Raw
			}
			run.emit(event)
		},
	}
	outcome, err := conductor.Run(ctx, executor, catalog, run.Request, schemaInfo)
	if err != nil {
		r.finish(run, StatusFailed, "", err)
		return
	}

	run.emit(api.RunEvent{Type: api.EventAssistantText, Text: outcome.FinalText})
	run.setUsage(outcome.Usage)

	status := StatusSucceeded
	if outcome.StopCause == StopCauseMaxTurns {
		status = StatusPartial
	}
	r.finish(run, status, outcome.FinalText, nil)
}

// finish records the terminal state, emits the terminal event, closes the
// event stream, and writes the history record.
func (r *Runner) finish(run *Run, status RunStatus, answer string, cause error) {
	latency := time.Since(run.startedAt)

	switch status {
	case StatusCancelled:
		run.emit(api.RunEvent{Type: api.EventRunCancelled})
	case StatusFailed:
		run.emit(api.RunEvent{Type: api.EventRunFailed, Text: cause.Error()})
	default:
		run.emit(api.RunEvent{Type: api.EventRunFinished, Text: answer})
	}

	run.complete(status, answer, cause, latency)
	observability.ObserveRun(string(status), latency)

	retention := r.cfg.RunRetention
	if retention <= 0 {
		retention = defaultRunRetention
	}
	time.AfterFunc(retention, func() {
		r.mu.Lock()
		delete(r.runs, run.ID)
		r.mu.Unlock()
	})

	if r.history != nil {
		summary := api.RunSummary{
			RunID:      run.ID,
			Request:    run.Request,
			Status:     string(status),
			Model:      r.cfg.Model,
			LatencyMS:  latency.Milliseconds(),
			FinishedAt: time.Now(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.history.Record(ctx, summary); err != nil {
			log.Printf("WARNING: recording run %s: %v", run.ID, err)
		}
	}
}

// Run is one user-initiated execution with its own transcript, event
// stream, and terminal state. No state is shared between runs.
type Run struct {
	ID      string
	Request string

	startedAt time.Time
	cancelled atomic.Bool

	events chan api.RunEvent
	done   chan struct{}

	mu      sync.Mutex
	log     []api.RunEvent
	status  RunStatus
	answer  string
	errText string
	usage   api.Usage
	latency time.Duration
}

// Cancel requests cooperative cancellation. It is advisory: an in-flight
// gateway or tool call is never interrupted, and the run stops at the next
// checkpoint.
func (run *Run) Cancel() {
	run.cancelled.Store(true)
}

// Events returns the live event stream. The channel is closed when the run
// reaches a terminal state.
func (run *Run) Events() <-chan api.RunEvent {
	return run.events
}

// Done is closed when the run reaches a terminal state.
func (run *Run) Done() <-chan struct{} {
	return run.done
}

// Snapshot returns the run's current public state, including the event log
// so late subscribers can catch up.
func (run *Run) Snapshot() api.RunStatusResponse {
	run.mu.Lock()
	defer run.mu.Unlock()
	events := make([]api.RunEvent, len(run.log))
	copy(events, run.log)
	return api.RunStatusResponse{
		RunID:     run.ID,
		Status:    string(run.status),
		Request:   run.Request,
		Answer:    run.answer,
		Error:     run.errText,
		Usage:     run.usage,
		LatencyMS: run.latency.Milliseconds(),
		Events:    events,
	}
}

// emit appends the event to the log and offers it to the live stream. The
// send never blocks; a subscriber that stops draining loses live events
// but can still read the full log from a snapshot.
func (run *Run) emit(event api.RunEvent) {
	event.RunID = run.ID
	event.At = time.Now()

	run.mu.Lock()
	run.log = append(run.log, event)
	run.mu.Unlock()

	select {
	case run.events <- event:
	default:
	}
}

func (run *Run) setUsage(usage api.Usage) {
	run.mu.Lock()
	run.usage = usage
	run.mu.Unlock()
}

func (run *Run) complete(status RunStatus, answer string, cause error, latency time.Duration) {
	run.mu.Lock()
	run.status = status
	run.answer = answer
	if cause != nil {
		run.errText = cause.Error()
	}
	run.latency = latency
	run.mu.Unlock()

	close(run.events)
	close(run.done)
}
