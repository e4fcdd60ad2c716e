package youtube

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/john/livechat/internal/message"
)

// Options configures a Connector.
type Options struct {
	BaseURL                string
	UserAgent              string
	RequestTimeout         time.Duration
	PollInterval           time.Duration
	ScheduledRecheck       time.Duration
	MaxConsecutiveFailures int
	HTTPClient             *http.Client
}

// Connector manages YouTube live chat sessions. The HTTP transport is shared
// by every session; cursors are not.
type Connector struct {
	videoIDs []string
	opts     Options
	resolver *Resolver
	client   *ChatClient

	mu    sync.Mutex
	loops map[string]*Loop
}

// New creates a new YouTube connector for the given video ids
func New(videoIDs []string, opts Options) *Connector {
	return &Connector{
		videoIDs: videoIDs,
		opts:     opts,
		resolver: &Resolver{
			BaseURL:    opts.BaseURL,
			UserAgent:  opts.UserAgent,
			Timeout:    opts.RequestTimeout,
			HTTPClient: opts.HTTPClient,
		},
		client: &ChatClient{
			BaseURL:    opts.BaseURL,
			UserAgent:  opts.UserAgent,
			Timeout:    opts.RequestTimeout,
			HTTPClient: opts.HTTPClient,
		},
		loops: make(map[string]*Loop),
	}
}

// ResolveSession fetches and parses the session of videoID.
func (c *Connector) ResolveSession(ctx context.Context, videoID string) (SessionInfo, error) {
	return c.resolver.Resolve(ctx, videoID)
}

// PollOnce performs a single poll and returns its normalized messages and the
// cursor for the next poll. An idle chat yields no messages and no error.
// Actions that are not text messages are dropped here too, so an empty batch
// does not mean the chat was idle; use Poll to tell the two apart.
func (c *Connector) PollOnce(ctx context.Context, session SessionInfo, cursor Cursor) ([]message.Message, Cursor, error) {
	res, err := c.Poll(ctx, session, cursor)
	if err != nil {
		return nil, cursor, err
	}
	return Normalize(session.VideoID, res.Actions), res.Next, nil
}

// Poll performs a single poll and returns the raw actions and next cursor.
// Its NoActionsAvailable reports whether the server sent nothing at all.
func (c *Connector) Poll(ctx context.Context, session SessionInfo, cursor Cursor) (PollResult, error) {
	return c.client.Poll(ctx, session, cursor)
}

// StartSession polls videoID's chat every interval, handing each batch to
// sink, until ctx is cancelled or the session fails.
func (c *Connector) StartSession(ctx context.Context, videoID string, interval time.Duration, sink Sink) error {
	loop := &Loop{
		Resolver:               c.resolver,
		Poller:                 c.client,
		Interval:               interval,
		ScheduledRecheck:       c.opts.ScheduledRecheck,
		MaxConsecutiveFailures: c.opts.MaxConsecutiveFailures,
	}

	c.mu.Lock()
	c.loops[videoID] = loop
	c.mu.Unlock()

	return loop.Run(ctx, videoID, sink)
}

// Start runs a session for every configured video and forwards messages to
// messageChan. A failed session does not stop the others: the group has no
// shared context, so Start waits for every session and then returns ctx.Err()
// after cancellation, or the first session failure when all sessions ended on
// their own.
func (c *Connector) Start(ctx context.Context, messageChan chan<- message.Message) error {
	if len(c.videoIDs) == 0 {
		return fmt.Errorf("no youtube video ids configured")
	}

	var g errgroup.Group
	for _, videoID := range c.videoIDs {
		g.Go(func() error {
			slog.Info("starting youtube chat session", slog.String("video_id", videoID))
			err := c.StartSession(ctx, videoID, c.opts.PollInterval, forward(ctx, messageChan))
			if err != nil {
				slog.Warn("youtube chat session ended", slog.String("video_id", videoID), slog.Any("err", err))
				return fmt.Errorf("session %s: %w", videoID, err)
			}
			return nil
		})
	}
	err := g.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Sessions reports the state of every session started so far, keyed by
// video id.
func (c *Connector) Sessions() map[string]Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Status, len(c.loops))
	for id, loop := range c.loops {
		out[id] = loop.Status()
	}
	return out
}

// forward returns a Sink that pushes each message onto messageChan, giving
// up when ctx is done.
func forward(ctx context.Context, messageChan chan<- message.Message) Sink {
	return func(batch []message.Message) {
		for _, msg := range batch {
			select {
			case messageChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}
