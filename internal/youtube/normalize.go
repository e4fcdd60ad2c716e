package youtube

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/john/livechat/internal/message"
)

// Platform is the message.Message platform name for YouTube chat.
const Platform = "youtube"

// Fallbacks for fields missing from a text message payload.
const (
	UnknownAuthorID       = "Unknown Author ID"
	UnknownAuthor         = "Unknown Author"
	UnknownTimestamp      = "Unknown Timestamp"
	UnknownTrackingParams = "Unknown Tracking Params"
	UnknownEmoji          = "Unknown Emoji"
	UnknownEmojiURL       = "Unknown Emoji URL"
)

const textMessagePath = "addChatItemAction.item.liveChatTextMessageRenderer"

// FilterClientScoped drops actions without a clientId key. An empty or
// non-string clientId still counts as present.
func FilterClientScoped(actions []RawAction) []RawAction {
	out := make([]RawAction, 0, len(actions))
	for _, a := range actions {
		if a.HasClientID() {
			out = append(out, a)
		}
	}
	return out
}

// Normalize converts raw chat actions into messages for channel (the video
// id). Actions that are not text-message additions are skipped; missing
// fields fall back to defaults, so a malformed entry never fails the batch.
func Normalize(channel string, actions []RawAction) []message.Message {
	actions = FilterClientScoped(actions)
	out := make([]message.Message, 0, len(actions))
	for _, a := range actions {
		renderer := a.v.Get(textMessagePath)
		if !renderer.IsObject() {
			continue
		}
		out = append(out, normalizeTextMessage(channel, renderer))
	}
	return out
}

func normalizeTextMessage(channel string, r gjson.Result) message.Message {
	return message.Message{
		Platform:       Platform,
		Channel:        channel,
		AuthorID:       stringAt(r, "authorExternalChannelId", UnknownAuthorID),
		AuthorName:     stringAt(r, "authorName.simpleText", UnknownAuthor),
		AuthorBadges:   badgeURLs(r.Get("authorBadges")),
		Text:           messageText(r.Get("message.runs")),
		Emotes:         []string{},
		TimestampUsec:  stringAt(r, "timestampUsec", UnknownTimestamp),
		TrackingParams: stringAt(r, "trackingParams", UnknownTrackingParams),
	}
}

// stringAt returns the string at path, or def when the value is absent or
// not a JSON string.
func stringAt(v gjson.Result, path, def string) string {
	r := v.Get(path)
	if r.Type != gjson.String {
		return def
	}
	return r.Str
}

// badgeURLs keeps the first custom thumbnail of each badge, in badge order.
// Built-in badges such as moderator or verified carry an icon instead and are
// skipped.
func badgeURLs(badges gjson.Result) []string {
	urls := []string{}
	for _, b := range badges.Array() {
		u := b.Get("liveChatAuthorBadgeRenderer.customThumbnail.thumbnails.0.url")
		if u.Type == gjson.String {
			urls = append(urls, u.Str)
		}
	}
	return urls
}

// messageText joins text runs and emoji image tags with single spaces.
// Downstream renderers depend on this exact shape.
func messageText(runs gjson.Result) string {
	items := runs.Array()
	parts := make([]string, 0, len(items))
	for _, run := range items {
		if text := run.Get("text"); text.Type == gjson.String {
			parts = append(parts, text.Str)
			continue
		}
		if emoji := run.Get("emoji"); emoji.IsObject() {
			parts = append(parts, emojiTag(emoji))
		}
	}
	return strings.Join(parts, " ")
}

func emojiTag(emoji gjson.Result) string {
	name := stringAt(emoji, "image.accessibility.accessibilityData.label", UnknownEmoji)
	src := stringAt(emoji, "image.thumbnails.0.url", UnknownEmojiURL)
	return fmt.Sprintf(`<img id="%s" src="%s" alt="%s" />`, name, src, name)
}
