package youtube

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/john/livechat/internal/message"
)

type fakeResolver struct {
	mu       sync.Mutex
	sessions []SessionInfo
	errs     []error
	calls    int
}

func (f *fakeResolver) Resolve(ctx context.Context, videoID string) (SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return SessionInfo{}, f.errs[i]
	}
	if i >= len(f.sessions) {
		i = len(f.sessions) - 1
	}
	return f.sessions[i], nil
}

type pollStep struct {
	res PollResult
	err error
}

// fakePoller replays steps in order and cancels the run once they are used up.
type fakePoller struct {
	mu      sync.Mutex
	steps   []pollStep
	cursors []Cursor
	cancel  context.CancelFunc
}

func (f *fakePoller) Poll(ctx context.Context, session SessionInfo, cursor Cursor) (PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	i := len(f.cursors) - 1
	if i >= len(f.steps) {
		f.cancel()
		return PollResult{}, ctx.Err()
	}
	return f.steps[i].res, f.steps[i].err
}

func (f *fakePoller) seen() []Cursor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Cursor(nil), f.cursors...)
}

var liveSession = SessionInfo{
	APIKey:        "ABC123",
	Continuation:  "C0",
	StreamType:    StreamLive,
	ClientVersion: "2.20240101.00.00",
	VideoID:       "abc123",
}

func textAction(clientID, text string) RawAction {
	return ParseAction(`{"addChatItemAction":{"clientId":"` + clientID +
		`","item":{"liveChatTextMessageRenderer":{"message":{"runs":[{"text":"` + text + `"}]}}}}}`)
}

func timed(token string) Cursor { return Cursor{Kind: CursorTimed, Token: token} }

func newTestLoop(resolver SessionResolver, poller ChatPoller) *Loop {
	return &Loop{
		Resolver:         resolver,
		Poller:           poller,
		Interval:         time.Millisecond,
		ScheduledRecheck: time.Millisecond,
	}
}

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]message.Message
}

func (b *batchRecorder) sink(batch []message.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, batch)
}

func TestLoop_AdvancesCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller := &fakePoller{cancel: cancel, steps: []pollStep{
		{res: PollResult{Actions: []RawAction{textAction("a", "one")}, Next: timed("C1")}},
		{res: PollResult{Next: Cursor{Kind: CursorInvalidation, Token: "C2"}}},
		{res: PollResult{Actions: []RawAction{textAction("b", "two"), textAction("c", "three")}, Next: timed("C3")}},
	}}
	loop := newTestLoop(&fakeResolver{sessions: []SessionInfo{liveSession}}, poller)

	var rec batchRecorder
	if err := loop.Run(ctx, "abc123", rec.sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []Cursor{timed("C0"), timed("C1"), {Kind: CursorInvalidation, Token: "C2"}, timed("C3")}
	got := poller.seen()
	if len(got) != len(want) {
		t.Fatalf("cursors = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("poll %d cursor = %+v, want %+v", i, got[i], want[i])
		}
	}

	if len(rec.batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(rec.batches))
	}
	if len(rec.batches[1]) != 0 {
		t.Errorf("idle poll delivered %d messages", len(rec.batches[1]))
	}
	if b := rec.batches[2]; len(b) != 2 || b[0].Text != "two" || b[1].Text != "three" {
		t.Errorf("third batch = %+v", b)
	}
	if st := loop.Status(); st.State != "stopped" {
		t.Errorf("state = %q, want stopped", st.State)
	}
}

func TestLoop_SoftFailureKeepsCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	netErr := &NetworkError{Op: "get live chat", StatusCode: 503, Err: errors.New("unavailable")}
	poller := &fakePoller{cancel: cancel, steps: []pollStep{
		{res: PollResult{Next: timed("C1")}},
		{err: netErr},
		{err: netErr},
		{res: PollResult{Next: timed("C2")}},
	}}
	loop := newTestLoop(&fakeResolver{sessions: []SessionInfo{liveSession}}, poller)

	if err := loop.Run(ctx, "abc123", nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := poller.seen()
	want := []Cursor{timed("C0"), timed("C1"), timed("C1"), timed("C1"), timed("C2")}
	if len(got) != len(want) {
		t.Fatalf("cursors = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("poll %d cursor = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLoop_FatalProtocolError(t *testing.T) {
	poller := &fakePoller{cancel: func() {}, steps: []pollStep{
		{res: PollResult{Next: timed("C1")}},
		{err: &ProtocolError{Err: ErrMissingContinuationList}},
		{res: PollResult{Next: timed("never")}},
	}}
	loop := newTestLoop(&fakeResolver{sessions: []SessionInfo{liveSession}}, poller)

	err := loop.Run(context.Background(), "abc123", nil)
	if !errors.Is(err, ErrMissingContinuationList) {
		t.Fatalf("Run() error = %v, want ErrMissingContinuationList", err)
	}
	if n := len(poller.seen()); n != 2 {
		t.Errorf("polled %d times after fatal error, want 2", n)
	}
	st := loop.Status()
	if st.State != "failed" || st.Reason != "missing_continuation_list" {
		t.Errorf("status = %+v", st)
	}
}

func TestLoop_ResolveFailure(t *testing.T) {
	resolveErr := &SessionResolutionError{VideoID: "abc123", Err: ErrReplayNotSupported}
	poller := &fakePoller{cancel: func() {}}
	loop := newTestLoop(&fakeResolver{errs: []error{resolveErr}}, poller)

	err := loop.Run(context.Background(), "abc123", nil)
	if !errors.Is(err, ErrReplayNotSupported) {
		t.Fatalf("Run() error = %v", err)
	}
	if n := len(poller.seen()); n != 0 {
		t.Errorf("polled %d times, want 0", n)
	}
	if st := loop.Status(); st.State != "failed" || st.Reason != "replay_not_supported" {
		t.Errorf("status = %+v", st)
	}
}

func TestLoop_MaxConsecutiveFailures(t *testing.T) {
	netErr := &NetworkError{Op: "get live chat", Err: errors.New("reset")}
	poller := &fakePoller{cancel: func() {}, steps: []pollStep{
		{err: netErr}, {err: netErr}, {err: netErr}, {err: netErr},
	}}
	loop := newTestLoop(&fakeResolver{sessions: []SessionInfo{liveSession}}, poller)
	loop.MaxConsecutiveFailures = 3

	err := loop.Run(context.Background(), "abc123", nil)
	if !errors.Is(err, ErrTooManyFailures) {
		t.Fatalf("Run() error = %v, want ErrTooManyFailures", err)
	}
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Errorf("last network error not wrapped: %v", err)
	}
	if n := len(poller.seen()); n != 3 {
		t.Errorf("polled %d times, want 3", n)
	}
	if st := loop.Status(); st.Reason != "too_many_failures" {
		t.Errorf("reason = %q", st.Reason)
	}
}

func TestLoop_WaitsForScheduledStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduled := liveSession
	scheduled.Continuation = ""
	scheduled.ScheduledStartTime = "1767225600"
	scheduled.StreamType = StreamScheduled

	resolver := &fakeResolver{sessions: []SessionInfo{scheduled, scheduled, liveSession}}
	poller := &fakePoller{cancel: cancel, steps: []pollStep{
		{res: PollResult{Next: timed("C1")}},
	}}
	loop := newTestLoop(resolver, poller)

	if err := loop.Run(ctx, "abc123", nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resolver.calls != 3 {
		t.Errorf("resolved %d times, want 3", resolver.calls)
	}
	if got := poller.seen(); len(got) == 0 || got[0] != timed("C0") {
		t.Errorf("first cursor = %v, want C0", got)
	}
}

func TestLoop_CancelWhileWaiting(t *testing.T) {
	scheduled := liveSession
	scheduled.Continuation = ""
	scheduled.StreamType = StreamScheduled

	loop := newTestLoop(&fakeResolver{sessions: []SessionInfo{scheduled}}, &fakePoller{cancel: func() {}})
	loop.ScheduledRecheck = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx, "abc123", nil) }()

	deadline := time.After(2 * time.Second)
	for loop.Status().State != "waiting" {
		select {
		case <-deadline:
			t.Fatal("loop never reached waiting state")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if st := loop.Status(); st.State != "stopped" {
		t.Errorf("state = %q, want stopped", st.State)
	}
}

func TestLoop_CancelDuringInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller := &fakePoller{cancel: cancel, steps: []pollStep{
		{res: PollResult{Next: timed("C1")}},
	}}
	loop := newTestLoop(&fakeResolver{sessions: []SessionInfo{liveSession}}, poller)
	loop.Interval = time.Hour

	polled := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx, "abc123", func([]message.Message) { close(polled) })
	}()

	select {
	case <-polled:
	case <-time.After(2 * time.Second):
		t.Fatal("first poll never happened")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run kept sleeping through the interval after cancellation")
	}
	if n := len(poller.seen()); n != 1 {
		t.Errorf("polled %d times, want 1", n)
	}
	if st := loop.Status(); st.State != "stopped" {
		t.Errorf("state = %q, want stopped", st.State)
	}
}
