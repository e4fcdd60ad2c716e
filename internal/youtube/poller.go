package youtube

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/john/livechat/internal/message"
	"github.com/john/livechat/internal/telemetry"
)

const (
	defaultInterval         = 5 * time.Second
	defaultScheduledRecheck = time.Minute
)

// State is a polling loop's position in its lifecycle.
type State int

const (
	StateResolving State = iota
	StateWaiting
	StatePolling
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateWaiting:
		return "waiting"
	case StatePolling:
		return "polling"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SessionResolver resolves a video id into a session.
type SessionResolver interface {
	Resolve(ctx context.Context, videoID string) (SessionInfo, error)
}

// ChatPoller performs one chat retrieval.
type ChatPoller interface {
	Poll(ctx context.Context, session SessionInfo, cursor Cursor) (PollResult, error)
}

// Sink receives each poll's normalized batch, in server order. It is called
// from the loop's goroutine and may block.
type Sink func(batch []message.Message)

// Status is a snapshot of a loop for reporting.
type Status struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Loop owns one session's cursor and polling cadence. Exactly one poll is in
// flight at a time and the cursor only advances after a successful poll. A
// Loop runs a single session; create one per video.
type Loop struct {
	Resolver SessionResolver
	Poller   ChatPoller
	Interval time.Duration

	// ScheduledRecheck is how often a scheduled stream's page is resolved
	// again while waiting for it to go live.
	ScheduledRecheck time.Duration

	// MaxConsecutiveFailures stops the session after that many soft failures
	// in a row. Zero retries forever.
	MaxConsecutiveFailures int

	mu     sync.Mutex
	state  State
	reason string
}

// Status returns the loop's current state and, once failed, the reason.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{State: l.state.String(), Reason: l.reason}
}

func (l *Loop) setState(s State, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
	l.reason = Reason(err)
}

func (l *Loop) interval() time.Duration {
	if l.Interval > 0 {
		return l.Interval
	}
	return defaultInterval
}

func (l *Loop) recheck() time.Duration {
	if l.ScheduledRecheck > 0 {
		return l.ScheduledRecheck
	}
	return defaultScheduledRecheck
}

// Run resolves videoID and polls its chat until ctx is cancelled or a fatal
// error occurs. Cancellation ends in StateStopped and returns nil. A fatal
// error, from resolution or from a poll such as ErrMissingContinuationList,
// ends in StateFailed with its reason recorded and is returned. Both states
// are terminal.
func (l *Loop) Run(ctx context.Context, videoID string, sink Sink) error {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("video_id", videoID))

	l.setState(StateResolving, nil)
	session, err := l.Resolver.Resolve(ctx, videoID)
	if err != nil {
		return l.finish(ctx, logger, err)
	}

	session, cursor, err := l.awaitLive(ctx, logger, videoID, session)
	if err != nil {
		return l.finish(ctx, logger, err)
	}

	l.setState(StatePolling, nil)
	logger.Info("polling live chat", slog.Duration("interval", l.interval()), slog.String("cursor_kind", cursor.Kind.String()))
	telemetry.SessionActive(true)
	defer telemetry.SessionActive(false)

	ticker := time.NewTicker(l.interval())
	defer ticker.Stop()

	failures := 0
	for {
		if ctx.Err() != nil {
			return l.finish(ctx, logger, nil)
		}

		next, err := l.pollOnce(ctx, logger, videoID, session, cursor, sink)
		switch {
		case err == nil:
			cursor = next
			failures = 0
		case ctx.Err() != nil:
			return l.finish(ctx, logger, nil)
		case Classify(err) == ErrorClassFatal:
			return l.finish(ctx, logger, err)
		default:
			failures++
			logger.Warn("chat poll failed, retrying with same cursor",
				slog.Int("consecutive_failures", failures), slog.Any("err", err))
			if l.MaxConsecutiveFailures > 0 && failures >= l.MaxConsecutiveFailures {
				return l.finish(ctx, logger, fmt.Errorf("%w: %w", ErrTooManyFailures, err))
			}
		}

		select {
		case <-ctx.Done():
			return l.finish(ctx, logger, nil)
		case <-ticker.C:
		}
	}
}

// pollOnce runs a single tick: poll, normalize, deliver. On error the
// returned cursor is meaningless and the caller keeps its own.
func (l *Loop) pollOnce(ctx context.Context, logger *slog.Logger, videoID string, session SessionInfo, cursor Cursor, sink Sink) (Cursor, error) {
	start := time.Now()
	res, err := l.Poller.Poll(ctx, session, cursor)
	if err != nil {
		result := telemetry.PollSoftError
		if Classify(err) == ErrorClassFatal {
			result = telemetry.PollFatalError
		}
		telemetry.ObservePoll(Platform, result, time.Since(start))
		return Cursor{}, err
	}

	result := telemetry.PollOK
	if res.NoActionsAvailable() {
		result = telemetry.PollEmpty
	}
	telemetry.ObservePoll(Platform, result, time.Since(start))

	batch := Normalize(videoID, res.Actions)
	telemetry.AddMessages(Platform, len(batch))
	logger.Debug("chat poll", slog.Int("actions", len(res.Actions)), slog.Int("messages", len(batch)),
		slog.String("next_cursor_kind", res.Next.Kind.String()))
	if sink != nil {
		sink(batch)
	}
	return res.Next, nil
}

// awaitLive returns a live session and its initial cursor, re-resolving a
// scheduled stream's page until it carries one.
func (l *Loop) awaitLive(ctx context.Context, logger *slog.Logger, videoID string, session SessionInfo) (SessionInfo, Cursor, error) {
	for {
		if cursor, ok := session.InitialCursor(); ok {
			return session, cursor, nil
		}

		l.setState(StateWaiting, nil)
		logger.Info("stream is scheduled, waiting for it to go live",
			slog.String("scheduled_start_time", session.ScheduledStartTime),
			slog.Duration("recheck", l.recheck()))

		select {
		case <-ctx.Done():
			return SessionInfo{}, Cursor{}, ctx.Err()
		case <-time.After(l.recheck()):
		}

		var err error
		session, err = l.Resolver.Resolve(ctx, videoID)
		if err != nil {
			return SessionInfo{}, Cursor{}, err
		}
	}
}

// finish moves the loop to its terminal state. Once ctx is cancelled any
// error is a side effect of the cancellation and the stop is clean; anything
// else is reported once as a session failure.
func (l *Loop) finish(ctx context.Context, logger *slog.Logger, err error) error {
	if err == nil || ctx.Err() != nil {
		l.setState(StateStopped, nil)
		logger.Info("chat session stopped")
		return nil
	}

	l.setState(StateFailed, err)
	telemetry.SessionFailed(Reason(err))
	logger.Error("chat session failed", slog.String("reason", Reason(err)), slog.Any("err", err))
	return err
}
