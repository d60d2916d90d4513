package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const historySize = 32

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithJobTimeout bounds each job. Zero means no limit.
func WithJobTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithObserver registers a func called after every status change with a
// copy of the invocation. It must not block.
func WithObserver(fn func(Invocation)) Option {
	return func(d *Dispatcher) { d.observer = fn }
}

// Stats contains dispatcher counters.
type Stats struct {
	Dispatched int64 `json:"dispatched"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
	Discarded  int64 `json:"discarded"`
	Duplicates int64 `json:"duplicates"`
	Active     int   `json:"active"`
}

type entry struct {
	inv    Invocation
	cancel context.CancelFunc
}

// Dispatcher owns the invocation table. Each call runs on its own
// goroutine so the receive loop is never held up by a slow job.
type Dispatcher struct {
	responder Responder
	tools     map[string]Tool
	logger    *slog.Logger
	timeout   time.Duration
	observer  func(Invocation)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Responses are sent under sendMu read locks. Close takes the write
	// lock after cancelling sendCtx.
	sendMu     sync.RWMutex
	sendCtx    context.Context
	sendCancel context.CancelFunc

	mu      sync.Mutex
	active  map[string]*entry
	history []Invocation
	closed  bool
	stats   Stats
}

// NewDispatcher creates a dispatcher that answers through responder.
func NewDispatcher(responder Responder, tools []Tool, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		responder: responder,
		tools:     make(map[string]Tool, len(tools)),
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
		active:    make(map[string]*entry),
	}
	d.sendCtx, d.sendCancel = context.WithCancel(ctx)
	for _, t := range tools {
		d.tools[t.Name] = t
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "tools")
	return d
}

// Tools returns the registered tools.
func (d *Dispatcher) Tools() []Tool {
	out := make([]Tool, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, t)
	}
	return out
}

// Dispatch starts a job for call and returns immediately. A call whose id
// already has a running job is ignored. It reports whether a job started.
func (d *Dispatcher) Dispatch(call Call) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Debug("dispatch after close ignored", "id", call.ID, "name", call.Name)
		return false
	}
	if e, ok := d.active[call.ID]; ok && e.inv.Status.Active() {
		d.stats.Duplicates++
		d.mu.Unlock()
		d.logger.Warn("duplicate tool call ignored", "id", call.ID, "name", call.Name)
		return false
	}

	jobCtx, cancel := d.jobContext()
	e := &entry{
		inv: Invocation{
			ID:        call.ID,
			Name:      call.Name,
			Args:      call.Args,
			Status:    StatusPending,
			CreatedAt: time.Now(),
		},
		cancel: cancel,
	}
	d.active[call.ID] = e
	tool, known := d.tools[call.Name]
	e.inv.Status = StatusDispatched
	d.stats.Dispatched++
	snap := d.snapshotLocked(e)
	d.mu.Unlock()

	d.notify(snap)
	d.logger.Info("tool call dispatched", "id", call.ID, "name", call.Name)

	d.wg.Add(1)
	go d.run(jobCtx, cancel, call, tool, known)
	return true
}

func (d *Dispatcher) jobContext() (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(d.ctx, d.timeout)
	}
	return context.WithCancel(d.ctx)
}

func (d *Dispatcher) run(ctx context.Context, cancel context.CancelFunc, call Call, tool Tool, known bool) {
	defer d.wg.Done()
	defer cancel()

	ctx, span := tracer.Start(ctx, "tool job",
		trace.WithAttributes(
			attribute.String("tool.id", call.ID),
			attribute.String("tool.name", call.Name),
		))
	defer span.End()

	start := time.Now()
	var (
		result string
		err    error
	)
	switch {
	case !known:
		err = ErrUnknownTool
	case tool.Handler == nil:
		err = fmt.Errorf("%w: no handler", ErrUnknownTool)
	default:
		result, err = tool.Handler(ctx, call.Args)
	}
	if err != nil {
		err = &ToolJobError{ID: call.ID, Name: call.Name, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	sent, sendErr := d.respond(call.ID, result, err)
	if !sent {
		span.AddEvent("result discarded")
		return
	}

	d.logger.Info("tool call finished",
		"id", call.ID,
		"name", call.Name,
		"ok", err == nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if sendErr != nil && !errors.Is(sendErr, context.Canceled) {
		d.logger.Warn("tool response not delivered", "id", call.ID, "error", sendErr)
		span.RecordError(sendErr)
	}
}

// respond records the outcome and hands the response to the responder.
// It reports false when the result was discarded. Close waits for a
// respond in progress, so nothing is sent once Close has returned.
func (d *Dispatcher) respond(id, result string, err error) (bool, error) {
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()

	resp, ok := d.finish(id, result, err)
	if !ok {
		return false, nil
	}
	return true, d.responder.SendToolResponse(d.sendCtx, resp)
}

// finish records the outcome and builds the response. It returns false
// when the result must be discarded (dispatcher closed or call cancelled).
func (d *Dispatcher) finish(id, result string, err error) (Response, bool) {
	d.mu.Lock()
	e, ok := d.active[id]
	if !ok || d.closed || e.inv.Status == StatusCancelled {
		d.stats.Discarded++
		d.mu.Unlock()
		d.logger.Debug("tool result discarded", "id", id)
		return Response{}, false
	}
	e.cancel()
	delete(d.active, id)

	e.inv.FinishedAt = time.Now()
	resp := Response{ID: e.inv.ID, Name: e.inv.Name}
	if err != nil {
		e.inv.Status = StatusFailed
		e.inv.Error = err.Error()
		d.stats.Failed++
		resp.Output = map[string]any{"error": err.Error()}
	} else {
		e.inv.Status = StatusCompleted
		e.inv.Result = result
		d.stats.Completed++
		resp.Output = map[string]any{"result": result}
	}
	d.pushHistoryLocked(e.inv)
	snap := d.snapshotLocked(e)
	d.mu.Unlock()

	d.notify(snap)
	return resp, true
}

// Cancel abandons the given invocations. Their jobs are cancelled and no
// response is sent.
func (d *Dispatcher) Cancel(ids ...string) int {
	var snaps []Invocation

	d.mu.Lock()
	for _, id := range ids {
		e, ok := d.active[id]
		if !ok || !e.inv.Status.Active() {
			continue
		}
		e.cancel()
		e.inv.Status = StatusCancelled
		e.inv.FinishedAt = time.Now()
		delete(d.active, id)
		d.stats.Cancelled++
		d.pushHistoryLocked(e.inv)
		snaps = append(snaps, d.snapshotLocked(e))
	}
	d.mu.Unlock()

	for _, s := range snaps {
		d.logger.Info("tool call cancelled", "id", s.ID, "name", s.Name)
		d.notify(s)
	}
	return len(snaps)
}

// Invocation returns a copy of the invocation with id, active or recent.
func (d *Dispatcher) Invocation(id string) (Invocation, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.active[id]; ok {
		return d.snapshotLocked(e), true
	}
	for i := len(d.history) - 1; i >= 0; i-- {
		if d.history[i].ID == id {
			return deepCopy(d.history[i]), true
		}
	}
	return Invocation{}, false
}

// Invocations returns copies of active invocations followed by recent ones,
// newest first.
func (d *Dispatcher) Invocations() []Invocation {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Invocation, 0, len(d.active)+len(d.history))
	for _, e := range d.active {
		out = append(out, d.snapshotLocked(e))
	}
	for i := len(d.history) - 1; i >= 0; i-- {
		out = append(out, deepCopy(d.history[i]))
	}
	return out
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.stats
	st.Active = len(d.active)
	return st
}

// Close stops accepting calls and clears the table. Jobs already running
// finish on their own, but their results are discarded. A response send in
// progress is cancelled and waited for.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	orphaned := len(d.active)
	d.active = make(map[string]*entry)
	d.mu.Unlock()

	d.sendCancel()
	d.sendMu.Lock()
	d.sendMu.Unlock()

	if orphaned > 0 {
		d.logger.Info("dispatcher closed with running jobs", "orphaned", orphaned)
	}
}

// Shutdown closes the dispatcher and cancels every running job.
func (d *Dispatcher) Shutdown() {
	d.Close()
	d.cancel()
}

// Wait blocks until every job goroutine has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) pushHistoryLocked(inv Invocation) {
	d.history = append(d.history, inv)
	if len(d.history) > historySize {
		d.history = d.history[len(d.history)-historySize:]
	}
}

func (d *Dispatcher) snapshotLocked(e *entry) Invocation {
	return deepCopy(e.inv)
}

func (d *Dispatcher) notify(inv Invocation) {
	if d.observer != nil {
		d.observer(inv)
	}
}

func deepCopy(inv Invocation) Invocation {
	var out Invocation
	if err := copier.CopyWithOption(&out, &inv, copier.Option{DeepCopy: true}); err != nil {
		return inv
	}
	return out
}
