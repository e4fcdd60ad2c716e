package message

// Message represents a chat message from any platform (YouTube, Twitch, Kick)
type Message struct {
	Platform       string   `json:"platform"`                  // Platform name: "youtube", "twitch", "kick"
	Channel        string   `json:"channel"`                   // Video ID on YouTube, channel name or slug elsewhere
	AuthorID       string   `json:"author_id"`                 // Platform-specific user ID
	AuthorName     string   `json:"author_name"`               // User's display name
	AuthorBadges   []string `json:"author_badges"`             // Badge image URLs (YouTube) or badge names; empty if none
	Text           string   `json:"text"`                      // Message body, emoji inlined as <img> tags on YouTube
	Emotes         []string `json:"emotes"`                    // Emote names; always empty on YouTube
	TimestampUsec  string   `json:"timestamp_usec"`            // Microseconds since the Unix epoch
	TrackingParams string   `json:"tracking_params,omitempty"` // Opaque platform tracking token
}
