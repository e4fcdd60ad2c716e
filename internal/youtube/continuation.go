package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/john/livechat/internal/telemetry"
	"github.com/john/livechat/internal/webclient"
)

const (
	chatEndpointPath  = "/youtubei/v1/live_chat/get_live_chat"
	clientName        = "WEB"
	actionsPath       = "continuationContents.liveChatContinuation.actions"
	continuationsPath = "continuationContents.liveChatContinuation.continuations"
	maxResponseBytes  = 8 << 20
)

// CursorKind records which server-side strategy issued a cursor. Both kinds
// are polled the same way.
type CursorKind int

const (
	CursorTimed CursorKind = iota
	CursorInvalidation
)

func (k CursorKind) String() string {
	switch k {
	case CursorTimed:
		return "timed"
	case CursorInvalidation:
		return "invalidation"
	default:
		return "unknown"
	}
}

// MarshalText lets CursorKind render as its name in JSON output.
func (k CursorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a name written by MarshalText.
func (k *CursorKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "timed":
		*k = CursorTimed
	case "invalidation":
		*k = CursorInvalidation
	default:
		return fmt.Errorf("unknown cursor kind %q", text)
	}
	return nil
}

// Cursor is the opaque continuation token presented on the next poll.
type Cursor struct {
	Kind  CursorKind `json:"kind"`
	Token string     `json:"token"`
}

// RawAction is one server-pushed chat event, kept as untyped JSON.
type RawAction struct {
	v gjson.Result
}

// ParseAction wraps a single JSON action object.
func ParseAction(raw string) RawAction {
	return RawAction{v: gjson.Parse(raw)}
}

// ClientID returns the action's client-scoped identity, looked up on the
// action itself and on its add-item payload.
func (a RawAction) ClientID() string {
	if id := a.v.Get("clientId"); id.Exists() {
		return id.String()
	}
	if id := a.v.Get("addChatItemAction.clientId"); id.Exists() {
		return id.String()
	}
	return ""
}

// HasClientID reports whether the action carries a clientId key at all,
// whatever its value.
func (a RawAction) HasClientID() bool {
	return a.v.Get("clientId").Exists() || a.v.Get("addChatItemAction.clientId").Exists()
}

// Raw returns the action's JSON text.
func (a RawAction) Raw() string { return a.v.Raw }

// PollResult is the outcome of one chat poll.
type PollResult struct {
	Actions []RawAction
	Next    Cursor
}

// NoActionsAvailable reports an idle poll. It is a valid outcome, not an error.
func (r PollResult) NoActionsAvailable() bool { return len(r.Actions) == 0 }

type chatRequest struct {
	Context struct {
		Client struct {
			ClientName    string `json:"clientName"`
			ClientVersion string `json:"clientVersion"`
		} `json:"client"`
	} `json:"context"`
	Continuation string `json:"continuation"`
}

// ChatClient issues chat retrieval requests. It never retries; retry policy
// belongs to the caller.
type ChatClient struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (c *ChatClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *ChatClient) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return DefaultBaseURL
}

// Poll fetches the actions delivered since cursor was issued and the cursor
// to use next.
func (c *ChatClient) Poll(ctx context.Context, session SessionInfo, cursor Cursor) (PollResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "youtube.poll",
		attribute.String("video_id", session.VideoID),
		attribute.String("cursor_kind", cursor.Kind.String()),
	)
	defer span.End()

	body, err := c.post(ctx, session, cursor)
	if err != nil {
		telemetry.RecordError(span, err)
		return PollResult{}, err
	}

	result, err := ParseChatResponse(body)
	if err != nil {
		telemetry.RecordError(span, err)
		return PollResult{}, err
	}
	span.SetAttributes(attribute.Int("actions", len(result.Actions)))
	return result, nil
}

func (c *ChatClient) post(ctx context.Context, session SessionInfo, cursor Cursor) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var payload chatRequest
	payload.Context.Client.ClientName = clientName
	payload.Context.Client.ClientVersion = session.ClientVersion
	payload.Continuation = cursor.Token
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL() + chatEndpointPath + "?key=" + url.QueryEscape(session.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	webclient.SetBrowserHeaders(req, c.UserAgent, c.baseURL())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http().Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "get live chat", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &NetworkError{Op: "get live chat", StatusCode: resp.StatusCode, Err: fmt.Errorf("body %q", snippet)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Op: "read live chat", Err: err}
	}
	return body, nil
}

// ParseChatResponse reads the action list and next cursor out of a chat
// retrieval response body. An absent action list counts as empty; an absent
// or empty continuation list cannot be recovered from.
func ParseChatResponse(body []byte) (PollResult, error) {
	if !gjson.ValidBytes(body) {
		return PollResult{}, &ProtocolError{Err: ErrMalformedResponse}
	}
	doc := gjson.ParseBytes(body)

	conts := doc.Get(continuationsPath).Array()
	if len(conts) == 0 {
		return PollResult{}, &ProtocolError{Err: ErrMissingContinuationList}
	}
	next, err := parseCursor(conts[0])
	if err != nil {
		return PollResult{}, &ProtocolError{Err: err}
	}

	raw := doc.Get(actionsPath).Array()
	actions := make([]RawAction, 0, len(raw))
	for _, a := range raw {
		actions = append(actions, RawAction{v: a})
	}
	return PollResult{Actions: actions, Next: next}, nil
}

func parseCursor(entry gjson.Result) (Cursor, error) {
	if timed := entry.Get("timedContinuationData"); timed.IsObject() {
		if tok := timed.Get("continuation"); tok.Type == gjson.String && tok.Str != "" {
			return Cursor{Kind: CursorTimed, Token: tok.Str}, nil
		}
	}
	if inv := entry.Get("invalidationContinuationData"); inv.IsObject() {
		if tok := inv.Get("continuation"); tok.Type == gjson.String && tok.Str != "" {
			return Cursor{Kind: CursorInvalidation, Token: tok.Str}, nil
		}
	}
	return Cursor{}, ErrUnknownContinuationShape
}
