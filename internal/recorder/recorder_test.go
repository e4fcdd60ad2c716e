package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/john/livechat/internal/message"
)

func readLines(t *testing.T, path string) []message.Message {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []message.Message
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m message.Message
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRecorder_CloseAllWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 10, 60, 100)
	r.now = fixedClock(time.Date(2025, 12, 30, 10, 30, 0, 0, time.UTC))

	msgs := []message.Message{
		{Platform: "youtube", Channel: "jfKfPfyJRdk", Text: "one", Emotes: []string{}},
		{Platform: "youtube", Channel: "jfKfPfyJRdk", Text: "two", Emotes: []string{}},
		{Platform: "twitch", Channel: "somechannel", Text: "hey", Emotes: []string{"Kappa"}},
	}
	for _, m := range msgs {
		if err := r.record(m); err != nil {
			t.Fatalf("record() error = %v", err)
		}
	}

	fileChan := make(chan string, 10)
	r.closeAll(fileChan)
	close(fileChan)

	var files []string
	for f := range fileChan {
		files = append(files, filepath.Base(f))
	}
	if len(files) != 2 {
		t.Fatalf("queued files = %v, want 2", files)
	}

	yt := readLines(t, filepath.Join(dir, "youtube_jfKfPfyJRdk_20251230_1030.jsonl"))
	if len(yt) != 2 || yt[0].Text != "one" || yt[1].Text != "two" {
		t.Errorf("youtube file = %+v", yt)
	}
	tw := readLines(t, filepath.Join(dir, "twitch_somechannel_20251230_1030.jsonl"))
	if len(tw) != 1 || tw[0].Emotes[0] != "Kappa" {
		t.Errorf("twitch file = %+v", tw)
	}
	if len(r.files) != 0 {
		t.Errorf("%d files still open", len(r.files))
	}
}

func TestRecorder_RotateDue(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2025, 12, 30, 10, 0, 0, 0, time.UTC)
	now := start

	r := New(dir, 100, 60, 100)
	r.now = func() time.Time { return now }

	if err := r.record(message.Message{Platform: "kick", Channel: "xqc", Text: "a"}); err != nil {
		t.Fatal(err)
	}

	fileChan := make(chan string, 10)

	// Not due yet: buffered messages are flushed but the file stays open.
	now = start.Add(30 * time.Minute)
	r.rotateDue(fileChan)
	if len(fileChan) != 0 {
		t.Fatal("file rotated before its age limit")
	}
	if got := readLines(t, filepath.Join(dir, "kick_xqc_20251230_1000.jsonl")); len(got) != 1 {
		t.Errorf("flushed %d lines, want 1", len(got))
	}

	now = start.Add(61 * time.Minute)
	r.rotateDue(fileChan)
	if len(fileChan) != 1 {
		t.Fatalf("queued %d files, want 1", len(fileChan))
	}
	<-fileChan

	// Size trigger on a fresh file.
	r.rotateBytes = 10
	if err := r.record(message.Message{Platform: "kick", Channel: "xqc", Text: "a long enough message"}); err != nil {
		t.Fatal(err)
	}
	r.rotateDue(fileChan)
	if len(fileChan) != 1 {
		t.Fatalf("size rotation queued %d files, want 1", len(fileChan))
	}
	if got := filepath.Base(<-fileChan); got != "kick_xqc_20251230_1101.jsonl" {
		t.Errorf("rotated file = %q", got)
	}
}

func TestRecorder_FullQueueDoesNotBlock(t *testing.T) {
	r := New(t.TempDir(), 1, 60, 100)
	if err := r.record(message.Message{Platform: "youtube", Channel: "v", Text: "x"}); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		r.closeAll(make(chan string)) // unbuffered, nobody reading
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("closeAll blocked on a full upload queue")
	}
}

func TestRecorder_StartFlushesOnShutdown(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 100, 60, 100)

	ctx, cancel := context.WithCancel(context.Background())
	messageChan := make(chan message.Message)
	fileChan := make(chan string, 1)

	done := make(chan error, 1)
	go func() { done <- r.Start(ctx, messageChan, fileChan) }()

	messageChan <- message.Message{Platform: "youtube", Channel: "v", Text: "bye"}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}

	select {
	case path := <-fileChan:
		if got := readLines(t, path); len(got) != 1 || got[0].Text != "bye" {
			t.Errorf("file contents = %+v", got)
		}
	default:
		t.Fatal("no file queued on shutdown")
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"":            "unknown",
		"jfKfPfyJRdk": "jfKfPfyJRdk",
		"a/b c":       "a-b-c",
		"we:ird?":     "we-ird-",
	}
	for in, want := range tests {
		if got := safeName(in); got != want {
			t.Errorf("safeName(%q) = %q, want %q", in, got, want)
		}
	}
}
