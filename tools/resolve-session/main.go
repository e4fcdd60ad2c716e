package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/john/livechat/internal/message"
	"github.com/john/livechat/internal/webclient"
	"github.com/john/livechat/internal/youtube"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "resolve-session: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		timeout time.Duration
		poll    bool
		baseURL string
	)

	cmd := &cobra.Command{
		Use:   "resolve-session <video-id> [video-id...]",
		Short: "Resolve YouTube live chat sessions and print them as JSON",
		Example: "  resolve-session jfKfPfyJRdk\n" +
			"  resolve-session --poll jfKfPfyJRdk",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn := youtube.New(args, youtube.Options{
				BaseURL:        baseURL,
				RequestTimeout: timeout,
				HTTPClient:     webclient.NewClient(timeout),
			})
			return run(cmd.Context(), conn, args, poll, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")
	cmd.Flags().BoolVar(&poll, "poll", false, "perform one chat poll after resolving")
	cmd.Flags().StringVar(&baseURL, "base-url", youtube.DefaultBaseURL, "YouTube base URL")
	return cmd
}

// report is printed once per video id
type report struct {
	VideoID  string               `json:"video_id"`
	Session  *youtube.SessionInfo `json:"session,omitempty"`
	Messages []message.Message    `json:"messages,omitempty"`
	Next     *youtube.Cursor      `json:"next_cursor,omitempty"`
	Error    string               `json:"error,omitempty"`
}

func run(ctx context.Context, conn *youtube.Connector, videoIDs []string, poll bool, out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	failed := 0
	for _, videoID := range videoIDs {
		rep := inspect(ctx, conn, videoID, poll)
		if rep.Error != "" {
			failed++
		}
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d video(s) failed", failed, len(videoIDs))
	}
	return nil
}

// inspect resolves videoID and, when poll is set and the stream is live,
// fetches one batch of chat.
func inspect(ctx context.Context, conn *youtube.Connector, videoID string, poll bool) report {
	rep := report{VideoID: videoID}

	session, err := conn.ResolveSession(ctx, videoID)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Session = &session

	if !poll {
		return rep
	}
	cursor, ok := session.InitialCursor()
	if !ok {
		rep.Error = "stream has not started yet, nothing to poll"
		return rep
	}

	msgs, next, err := conn.PollOnce(ctx, session, cursor)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Messages = msgs
	rep.Next = &next
	return rep
}
