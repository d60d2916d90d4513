package tools

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-live/pkg/generate"
)

// recorder collects responses sent back to the session.
type recorder struct {
	mu   sync.Mutex
	sent []Response
	ch   chan Response
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Response, 16)}
}

func (r *recorder) SendToolResponse(_ context.Context, resp Response) error {
	r.mu.Lock()
	r.sent = append(r.sent, resp)
	r.mu.Unlock()
	r.ch <- resp
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recorder) next(t *testing.T) Response {
	t.Helper()
	select {
	case resp := <-r.ch:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("no tool response")
		return Response{}
	}
}

func TestDispatch_RoundTrip(t *testing.T) {
	gen := generate.NewMock("def rev(s): return s[::-1]")
	rec := newRecorder()
	d := NewDispatcher(rec, Catalog(gen, CatalogOptions{}))

	ok := d.Dispatch(Call{
		ID:   "abc",
		Name: GenerateCode,
		Args: map[string]any{"description": "reverse a string", "language": "python"},
	})
	require.True(t, ok)

	resp := rec.next(t)
	assert.Equal(t, "abc", resp.ID)
	assert.Equal(t, GenerateCode, resp.Name)
	assert.Equal(t, "def rev(s): return s[::-1]", resp.Output["result"])

	d.Wait()
	assert.Equal(t, 1, rec.count())

	inv, found := d.Invocation("abc")
	require.True(t, found)
	assert.Equal(t, StatusCompleted, inv.Status)
	assert.Contains(t, gen.LastCall().Request.Prompt, "python")
	assert.Contains(t, gen.LastCall().Request.Prompt, "reverse a string")
}

func TestDispatch_UnknownToolFails(t *testing.T) {
	rec := newRecorder()
	d := NewDispatcher(rec, nil)

	require.True(t, d.Dispatch(Call{ID: "x1", Name: "launch_rocket"}))

	resp := rec.next(t)
	assert.Equal(t, "x1", resp.ID)
	assert.Contains(t, resp.Output["error"], "unknown tool")

	d.Wait()
	inv, _ := d.Invocation("x1")
	assert.Equal(t, StatusFailed, inv.Status)
	assert.EqualValues(t, 1, d.Stats().Failed)
}

func TestDispatch_GeneratorErrorBecomesFailedResponse(t *testing.T) {
	rec := newRecorder()
	d := NewDispatcher(rec, Catalog(generate.WithError(errors.New("quota")), CatalogOptions{}))

	d.Dispatch(Call{ID: "e1", Name: DraftText, Args: map[string]any{"topic": "release notes"}})

	resp := rec.next(t)
	assert.Contains(t, resp.Output["error"], "quota")
	assert.NotContains(t, resp.Output, "result")
}

func TestDispatch_InvalidArgs(t *testing.T) {
	rec := newRecorder()
	gen := generate.NewMock("unused")
	d := NewDispatcher(rec, Catalog(gen, CatalogOptions{}))

	d.Dispatch(Call{ID: "v1", Name: GenerateCode, Args: map[string]any{"language": "go"}})

	resp := rec.next(t)
	assert.Contains(t, resp.Output["error"], "description is required")
	assert.Zero(t, gen.CallCount())
}

// blockingTool returns a tool whose handler waits for release.
func blockingTool(name string, release <-chan struct{}) Tool {
	return Tool{
		Name: name,
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			select {
			case <-release:
				return "done", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}
}

func TestDispatch_DuplicateIDIgnored(t *testing.T) {
	release := make(chan struct{})
	rec := newRecorder()
	d := NewDispatcher(rec, []Tool{blockingTool("slow", release)})

	assert.True(t, d.Dispatch(Call{ID: "dup", Name: "slow"}))
	assert.False(t, d.Dispatch(Call{ID: "dup", Name: "slow"}))

	close(release)
	rec.next(t)
	d.Wait()

	assert.Equal(t, 1, rec.count())
	assert.EqualValues(t, 1, d.Stats().Duplicates)
}

func TestDispatch_NeverBlocks(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := NewDispatcher(newRecorder(), []Tool{blockingTool("slow", release)})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Dispatch(Call{ID: string(rune('a' + i)), Name: "slow"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on running jobs")
	}
	assert.Equal(t, 10, d.Stats().Active)
}

func TestClose_DiscardsOrphanedResults(t *testing.T) {
	release := make(chan struct{})
	rec := newRecorder()
	d := NewDispatcher(rec, []Tool{blockingTool("slow", release)})

	d.Dispatch(Call{ID: "o1", Name: "slow"})
	d.Close()
	d.Close()
	close(release)
	d.Wait()

	assert.Zero(t, rec.count())
	assert.EqualValues(t, 1, d.Stats().Discarded)
	assert.False(t, d.Dispatch(Call{ID: "o2", Name: "slow"}))
}

// stallingResponder blocks every send until its context is cancelled.
type stallingResponder struct {
	entered  chan struct{}
	returned atomic.Bool
}

func (r *stallingResponder) SendToolResponse(ctx context.Context, _ Response) error {
	close(r.entered)
	<-ctx.Done()
	r.returned.Store(true)
	return ctx.Err()
}

func TestClose_WaitsForInFlightSend(t *testing.T) {
	release := make(chan struct{})
	close(release)
	resp := &stallingResponder{entered: make(chan struct{})}
	d := NewDispatcher(resp, []Tool{blockingTool("fast", release)})

	require.True(t, d.Dispatch(Call{ID: "s1", Name: "fast"}))
	select {
	case <-resp.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("response never sent")
	}

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not release the blocked send")
	}
	assert.True(t, resp.returned.Load(), "send still running after Close")
	d.Wait()
}

func TestCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	rec := newRecorder()
	d := NewDispatcher(rec, []Tool{blockingTool("slow", release)})

	d.Dispatch(Call{ID: "c1", Name: "slow"})
	assert.Equal(t, 1, d.Cancel("c1", "missing"))
	d.Wait()

	assert.Zero(t, rec.count())
	inv, ok := d.Invocation("c1")
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, inv.Status)
}

func TestInvocation_IsDeepCopy(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := NewDispatcher(newRecorder(), []Tool{blockingTool("slow", release)})

	d.Dispatch(Call{ID: "d1", Name: "slow", Args: map[string]any{"k": "v"}})

	inv, ok := d.Invocation("d1")
	require.True(t, ok)
	inv.Args["k"] = "changed"

	again, _ := d.Invocation("d1")
	assert.Equal(t, "v", again.Args["k"])
	assert.Equal(t, StatusDispatched, again.Status)
}

func TestObserverSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []Status
	rec := newRecorder()
	d := NewDispatcher(rec, Catalog(generate.NewMock("ok"), CatalogOptions{}),
		WithObserver(func(inv Invocation) {
			mu.Lock()
			seen = append(seen, inv.Status)
			mu.Unlock()
		}))

	d.Dispatch(Call{ID: "ob", Name: DraftText, Args: map[string]any{"topic": "t"}})
	rec.next(t)
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusDispatched, StatusCompleted}, seen)
}

func TestShutdownCancelsJobs(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := NewDispatcher(newRecorder(), []Tool{blockingTool("slow", release)})

	d.Dispatch(Call{ID: "s1", Name: "slow"})
	d.Shutdown()

	waited := make(chan struct{})
	go func() { d.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("jobs not cancelled by Shutdown")
	}
}

func TestJobTimeout(t *testing.T) {
	rec := newRecorder()
	d := NewDispatcher(rec, []Tool{blockingTool("slow", make(chan struct{}))},
		WithJobTimeout(20*time.Millisecond))

	d.Dispatch(Call{ID: "t1", Name: "slow"})
	resp := rec.next(t)
	assert.Contains(t, resp.Output["error"], context.DeadlineExceeded.Error())
}

func TestStatusString(t *testing.T) {
	b, err := StatusCompleted.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "completed", string(b))
	assert.Equal(t, "unknown", Status(42).String())
	assert.True(t, StatusPending.Active())
	assert.False(t, StatusFailed.Active())
}
