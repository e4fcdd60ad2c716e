package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	kickchat "github.com/johanvandegriff/kick-chat-wrapper"

	"github.com/john/livechat/internal/message"
	"github.com/john/livechat/internal/telemetry"
	"github.com/john/livechat/internal/webclient"
)

// Platform is the message.Message platform name for Kick chat.
const Platform = "kick"

const defaultAPIBase = "https://kick.com"

// channelResponse is the part of Kick's channel API response we read
type channelResponse struct {
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int `json:"id"`
	} `json:"chatroom"`
}

// ChannelConfig represents a Kick channel with optional pre-configured chatroom ID
type ChannelConfig struct {
	Slug       string
	ChatroomID int // 0 means not pre-configured, needs resolution
}

// Connector manages Kick chat connections
type Connector struct {
	channels   []ChannelConfig
	apiBase    string
	httpClient *http.Client
	idToSlug   map[int]string // chatroom ID -> channel slug
	client     *kickchat.Client
}

// New creates a new Kick connector. httpClient is used for chatroom ID
// resolution.
func New(channels []ChannelConfig, httpClient *http.Client) *Connector {
	return &Connector{
		channels:   channels,
		apiBase:    defaultAPIBase,
		httpClient: httpClient,
		idToSlug:   make(map[int]string),
	}
}

// Start resolves chatrooms, joins them and forwards chat until ctx is cancelled
func (c *Connector) Start(ctx context.Context, messageChan chan<- message.Message) error {
	c.resolveAll(ctx)
	if len(c.idToSlug) == 0 {
		return fmt.Errorf("no valid Kick channels could be resolved")
	}

	client, err := kickchat.NewClient()
	if err != nil {
		return fmt.Errorf("create Kick client: %w", err)
	}
	c.client = client
	slog.Info("connected to kick websocket")

	for chatroomID, slug := range c.idToSlug {
		if err := c.client.JoinChannelByID(chatroomID); err != nil {
			slog.Warn("failed to join kick channel", slog.String("channel", slug), slog.Int("chatroom_id", chatroomID), slog.Any("err", err))
			continue
		}
		slog.Info("joined kick channel", slog.String("channel", slug))
	}

	messages := c.client.ListenForMessages()
	go func() {
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					slog.Warn("kick message stream closed")
					return
				}
				chatMessage, ok := c.convertMessage(msg)
				if !ok {
					continue
				}
				telemetry.AddMessages(Platform, 1)
				select {
				case messageChan <- chatMessage:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()

	slog.Info("disconnecting from kick chat")
	c.client.Close()
	return ctx.Err()
}

// resolveAll fills idToSlug, resolving channels without a configured chatroom
func (c *Connector) resolveAll(ctx context.Context) {
	for _, channel := range c.channels {
		if channel.ChatroomID > 0 {
			c.idToSlug[channel.ChatroomID] = channel.Slug
			continue
		}
		id, slug, err := c.resolveChannelID(ctx, channel.Slug)
		if err != nil {
			slog.Warn("skipping kick channel", slog.String("channel", channel.Slug), slog.Any("err", err))
			continue
		}
		slog.Info("resolved kick channel", slog.String("channel", slug), slog.Int("chatroom_id", id))
		c.idToSlug[id] = slug
	}
}

// resolveChannelID fetches the chatroom ID of a channel from the Kick API
func (c *Connector) resolveChannelID(ctx context.Context, slug string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/api/v2/channels/"+slug, nil)
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	webclient.SetBrowserHeaders(req, "", c.apiBase)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("request channel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var info channelResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return 0, "", fmt.Errorf("decode channel: %w", err)
	}
	if info.Chatroom.ID == 0 {
		return 0, "", fmt.Errorf("channel has no chatroom")
	}
	if info.Slug == "" {
		info.Slug = slug
	}
	return info.Chatroom.ID, info.Slug, nil
}

// convertMessage maps a Kick chat message onto the shared message model.
// Messages from chatrooms we did not join are dropped.
func (c *Connector) convertMessage(msg kickchat.ChatMessage) (message.Message, bool) {
	slug, ok := c.idToSlug[msg.ChatroomID]
	if !ok {
		slog.Warn("message from unknown kick chatroom", slog.Int("chatroom_id", msg.ChatroomID))
		return message.Message{}, false
	}

	return message.Message{
		Platform:      Platform,
		Channel:       slug,
		AuthorID:      strconv.Itoa(msg.Sender.ID),
		AuthorName:    msg.Sender.Username,
		AuthorBadges:  badgeNames(msg.Sender.Identity.Badges),
		Text:          msg.Content,
		Emotes:        []string{},
		TimestampUsec: strconv.FormatInt(msg.CreatedAt.UnixMicro(), 10),
	}, true
}

// badgeNames formats badges as "type:text", or just "type" without text
func badgeNames(badges []kickchat.Badge) []string {
	names := make([]string, 0, len(badges))
	for _, badge := range badges {
		if badge.Text != "" {
			names = append(names, badge.Type+":"+badge.Text)
		} else {
			names = append(names, badge.Type)
		}
	}
	return names
}
