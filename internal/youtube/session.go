package youtube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/john/livechat/internal/telemetry"
	"github.com/john/livechat/internal/webclient"
)

// DefaultBaseURL is the platform origin used when none is configured.
const DefaultBaseURL = "https://www.youtube.com"

// maxPageBytes bounds how much of a watch page is scanned.
const maxPageBytes = 16 << 20

// StreamType tells whether a session can be polled right away.
type StreamType int

const (
	// StreamLive sessions carry an initial continuation cursor.
	StreamLive StreamType = iota
	// StreamScheduled sessions only carry a scheduled start time.
	StreamScheduled
)

func (t StreamType) String() string {
	switch t {
	case StreamLive:
		return "live"
	case StreamScheduled:
		return "scheduled"
	default:
		return "unknown"
	}
}

// MarshalText lets StreamType render as its name in JSON output.
func (t StreamType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a name written by MarshalText.
func (t *StreamType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "live":
		*t = StreamLive
	case "scheduled":
		*t = StreamScheduled
	default:
		return fmt.Errorf("unknown stream type %q", text)
	}
	return nil
}

// SessionInfo holds the parameters scraped from a watch page. It is built
// once per session and never modified.
type SessionInfo struct {
	IsReplay           bool       `json:"is_replay"`
	APIKey             string     `json:"api_key"`
	Continuation       string     `json:"continuation,omitempty"`
	ScheduledStartTime string     `json:"scheduled_start_time,omitempty"`
	StreamType         StreamType `json:"stream_type"`
	ClientVersion      string     `json:"client_version"`
	VideoID            string     `json:"video_id"`
}

// InitialCursor returns the page-seeded cursor of a live session.
func (s SessionInfo) InitialCursor() (Cursor, bool) {
	if s.StreamType != StreamLive || s.Continuation == "" {
		return Cursor{}, false
	}
	return Cursor{Kind: CursorTimed, Token: s.Continuation}, true
}

// ParseSession extracts a SessionInfo from watch page markup. Checks run in
// a fixed order and stop at the first failure.
func ParseSession(markup string) (SessionInfo, error) {
	var info SessionInfo

	if extractReplay(markup) {
		return SessionInfo{}, ErrReplayNotSupported
	}

	key, ok := extractAPIKey(markup)
	if !ok {
		return SessionInfo{}, ErrMissingAPIKey
	}
	info.APIKey = key

	if cont, ok := extractContinuation(markup); ok {
		info.Continuation = cont
		info.StreamType = StreamLive
	} else if start, ok := extractScheduledStart(markup); ok {
		info.ScheduledStartTime = start
		info.StreamType = StreamScheduled
	} else {
		return SessionInfo{}, ErrMissingContinuation
	}

	version, ok := extractClientVersion(markup)
	if !ok {
		return SessionInfo{}, ErrMissingClientVersion
	}
	info.ClientVersion = version

	id, ok := extractVideoID(markup)
	if !ok {
		return SessionInfo{}, ErrMissingVideoID
	}
	info.VideoID = id

	return info, nil
}

// Resolver fetches watch pages and turns them into sessions.
type Resolver struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (r *Resolver) http() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return http.DefaultClient
}

func (r *Resolver) baseURL() string {
	if r.BaseURL != "" {
		return r.BaseURL
	}
	return DefaultBaseURL
}

// Resolve fetches the watch page of videoID and parses its session. Marker
// failures are returned as *SessionResolutionError, fetch failures as
// *NetworkError.
func (r *Resolver) Resolve(ctx context.Context, videoID string) (SessionInfo, error) {
	ctx, span := telemetry.StartSpan(ctx, "youtube.resolve", attribute.String("video_id", videoID))
	defer span.End()

	markup, err := r.fetchPage(ctx, videoID)
	if err != nil {
		telemetry.RecordError(span, err)
		return SessionInfo{}, err
	}

	info, err := ParseSession(markup)
	if err != nil {
		err = &SessionResolutionError{VideoID: videoID, Err: err}
		telemetry.RecordError(span, err)
		return SessionInfo{}, err
	}
	span.SetAttributes(attribute.String("stream_type", info.StreamType.String()))
	return info, nil
}

func (r *Resolver) fetchPage(ctx context.Context, videoID string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	pageURL := r.baseURL() + "/watch?v=" + url.QueryEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	webclient.SetBrowserHeaders(req, r.UserAgent, "")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.http().Do(req)
	if err != nil {
		return "", &NetworkError{Op: "fetch watch page", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &NetworkError{Op: "fetch watch page", StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", &NetworkError{Op: "read watch page", Err: err}
	}
	return string(body), nil
}
