package twitch

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gempir/go-twitch-irc/v4"

	"github.com/john/livechat/internal/message"
	"github.com/john/livechat/internal/telemetry"
)

// Platform is the message.Message platform name for Twitch chat.
const Platform = "twitch"

// Connector manages Twitch chat connections
type Connector struct {
	username string
	oauth    string
	channels []string
	client   *twitch.Client
}

// New creates a new Twitch connector
func New(username, oauth string, channels []string) *Connector {
	return &Connector{
		username: username,
		oauth:    oauth,
		channels: channels,
	}
}

// Start joins the configured channels and forwards chat until ctx is cancelled
func (c *Connector) Start(ctx context.Context, messageChan chan<- message.Message) error {
	c.client = twitch.NewClient(c.username, c.oauth)

	c.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		telemetry.AddMessages(Platform, 1)
		select {
		case messageChan <- convertMessage(msg):
		case <-ctx.Done():
		}
	})

	c.client.OnConnect(func() {
		slog.Info("connected to twitch irc")
	})

	c.client.OnReconnectMessage(func(msg twitch.ReconnectMessage) {
		slog.Info("reconnecting to twitch irc")
	})

	for _, channel := range c.channels {
		c.client.Join(channel)
		slog.Info("joined twitch channel", slog.String("channel", channel))
	}

	go func() {
		if err := c.client.Connect(); err != nil && err != twitch.ErrClientDisconnected {
			slog.Error("twitch irc connection error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()

	slog.Info("disconnecting from twitch irc")
	_ = c.client.Disconnect()

	return ctx.Err()
}

// convertMessage maps an IRC private message onto the shared message model
func convertMessage(msg twitch.PrivateMessage) message.Message {
	sent := msg.Time
	if sent.IsZero() {
		sent = time.Now()
	}

	emotes := make([]string, 0, len(msg.Emotes))
	for _, e := range msg.Emotes {
		emotes = append(emotes, e.Name)
	}

	return message.Message{
		Platform:      Platform,
		Channel:       strings.TrimPrefix(msg.Channel, "#"),
		AuthorID:      msg.User.ID,
		AuthorName:    msg.User.DisplayName,
		AuthorBadges:  badgeNames(msg.User.Badges),
		Text:          msg.Message,
		Emotes:        emotes,
		TimestampUsec: strconv.FormatInt(sent.UnixMicro(), 10),
	}
}

// badgeNames returns "name/version" badge entries in a stable order
func badgeNames(badges map[string]int) []string {
	names := make([]string, 0, len(badges))
	for badge, version := range badges {
		names = append(names, badge+"/"+strconv.Itoa(version))
	}
	sort.Strings(names)
	return names
}
