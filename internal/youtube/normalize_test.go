package youtube

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestNormalize_TextAndEmoji(t *testing.T) {
	action := ParseAction(`{"addChatItemAction":{"clientId":"c1","item":{"liveChatTextMessageRenderer":{
		"message":{"runs":[
			{"text":"hi"},
			{"emoji":{"emojiId":"e1","image":{
				"thumbnails":[{"url":"https://yt3.ggpht.com/wave.png"},{"url":"https://yt3.ggpht.com/wave2.png"}],
				"accessibility":{"accessibilityData":{"label":"wave"}}}}}
		]},
		"authorName":{"simpleText":"alice"},
		"authorExternalChannelId":"UCalice",
		"timestampUsec":"1700000000000000",
		"trackingParams":"tp",
		"authorBadges":[
			{"liveChatAuthorBadgeRenderer":{"customThumbnail":{"thumbnails":[{"url":"https://yt3.ggpht.com/member.png"}]}}},
			{"liveChatAuthorBadgeRenderer":{"icon":{"iconType":"MODERATOR"}}}
		]
	}}}}`)

	msgs := Normalize("abc123", []RawAction{action})
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	msg := msgs[0]

	wantText := `hi <img id="wave" src="https://yt3.ggpht.com/wave.png" alt="wave" />`
	if msg.Text != wantText {
		t.Errorf("Text = %q, want %q", msg.Text, wantText)
	}
	if msg.Platform != Platform || msg.Channel != "abc123" {
		t.Errorf("Platform/Channel = %q/%q", msg.Platform, msg.Channel)
	}
	if msg.AuthorID != "UCalice" || msg.AuthorName != "alice" {
		t.Errorf("author = %q/%q", msg.AuthorID, msg.AuthorName)
	}
	if msg.TimestampUsec != "1700000000000000" || msg.TrackingParams != "tp" {
		t.Errorf("timestamp/tracking = %q/%q", msg.TimestampUsec, msg.TrackingParams)
	}
	if want := []string{"https://yt3.ggpht.com/member.png"}; !reflect.DeepEqual(msg.AuthorBadges, want) {
		t.Errorf("AuthorBadges = %v, want %v", msg.AuthorBadges, want)
	}
	if msg.Emotes == nil || len(msg.Emotes) != 0 {
		t.Errorf("Emotes = %#v, want empty non-nil slice", msg.Emotes)
	}
}

func TestNormalize_Defaults(t *testing.T) {
	action := ParseAction(`{"clientId":"c1","addChatItemAction":{"item":{"liveChatTextMessageRenderer":{
		"message":{"runs":[{"emoji":{"image":{}}}]},
		"authorName":{"simpleText":42}
	}}}}`)

	msgs := Normalize("v", []RawAction{action})
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	msg := msgs[0]

	tests := []struct {
		field, got, want string
	}{
		{"AuthorID", msg.AuthorID, UnknownAuthorID},
		{"AuthorName", msg.AuthorName, UnknownAuthor},
		{"TimestampUsec", msg.TimestampUsec, UnknownTimestamp},
		{"TrackingParams", msg.TrackingParams, UnknownTrackingParams},
		{"Text", msg.Text, `<img id="Unknown Emoji" src="Unknown Emoji URL" alt="Unknown Emoji" />`},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.field, tt.got, tt.want)
		}
	}
	if len(msg.AuthorBadges) != 0 {
		t.Errorf("AuthorBadges = %v, want none", msg.AuthorBadges)
	}
}

func TestNormalize_Filtering(t *testing.T) {
	actions := []RawAction{
		// no clientId anywhere
		ParseAction(`{"addChatItemAction":{"item":{"liveChatTextMessageRenderer":{"message":{"runs":[{"text":"dropped"}]}}}}}`),
		// not a text message
		ParseAction(`{"clientId":"c2","addChatItemAction":{"item":{"liveChatPaidMessageRenderer":{}}}}`),
		// not an add action
		ParseAction(`{"clientId":"c3","markChatItemAsDeletedAction":{"targetItemId":"x"}}`),
		ParseAction(`{"addChatItemAction":{"clientId":"c4","item":{"liveChatTextMessageRenderer":{"message":{"runs":[{"text":"first"}]}}}}}`),
		ParseAction(`{"addChatItemAction":{"clientId":"c5","item":{"liveChatTextMessageRenderer":{"message":{"runs":[{"text":"second"},{"text":"part"}]}}}}}`),
	}

	if got := len(FilterClientScoped(actions)); got != 4 {
		t.Errorf("FilterClientScoped kept %d actions, want 4", got)
	}

	msgs := Normalize("v", actions)
	var texts []string
	for _, m := range msgs {
		texts = append(texts, m.Text)
	}
	if want := []string{"first", "second part"}; !reflect.DeepEqual(texts, want) {
		t.Errorf("texts = %v, want %v", texts, want)
	}
}

func TestNormalize_Empty(t *testing.T) {
	msgs := Normalize("v", nil)
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("Normalize(nil) = %#v, want empty slice", msgs)
	}
}

func TestNormalize_EmotesEncodeAsArray(t *testing.T) {
	msgs := Normalize("v", []RawAction{
		ParseAction(`{"clientId":"c","addChatItemAction":{"item":{"liveChatTextMessageRenderer":{}}}}`),
	})
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	data, err := json.Marshal(msgs[0])
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["emotes"].([]any); !ok {
		t.Errorf("emotes = %#v, want []", decoded["emotes"])
	}
	if decoded["text"] != "" {
		t.Errorf("text = %#v, want empty", decoded["text"])
	}
}

func TestFilterClientScoped_KeyPresence(t *testing.T) {
	actions := []RawAction{
		ParseAction(`{"clientId":"","addChatItemAction":{"item":{"liveChatTextMessageRenderer":{"message":{"runs":[{"text":"empty id"}]}}}}}`),
		ParseAction(`{"addChatItemAction":{"clientId":7,"item":{"liveChatTextMessageRenderer":{"message":{"runs":[{"text":"number id"}]}}}}}`),
		ParseAction(`{"addChatItemAction":{"item":{"liveChatTextMessageRenderer":{"message":{"runs":[{"text":"no id"}]}}}}}`),
	}

	if got := len(FilterClientScoped(actions)); got != 2 {
		t.Fatalf("FilterClientScoped kept %d actions, want 2", got)
	}
	msgs := Normalize("v", actions)
	if len(msgs) != 2 || msgs[0].Text != "empty id" || msgs[1].Text != "number id" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestNormalize_BadgesEncodeAsArray(t *testing.T) {
	msgs := Normalize("v", []RawAction{
		ParseAction(`{"clientId":"c","addChatItemAction":{"item":{"liveChatTextMessageRenderer":{}}}}`),
	})
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	data, err := json.Marshal(msgs[0])
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if badges, ok := decoded["author_badges"].([]any); !ok || len(badges) != 0 {
		t.Errorf("author_badges = %#v, want []", decoded["author_badges"])
	}
}
