package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/john/livechat/internal/message"
	"github.com/john/livechat/internal/telemetry"
)

// FileTimeLayout is the timestamp layout embedded in log file names.
const FileTimeLayout = "20060102_1504"

// fileWriter owns one open JSONL file for a platform/channel pair
type fileWriter struct {
	file         *os.File
	writer       *bufio.Writer
	path         string
	platform     string
	channel      string
	createdAt    time.Time
	bytesWritten int64
	pending      []message.Message
}

// flush encodes pending messages and pushes them to disk
func (fw *fileWriter) flush() error {
	for _, msg := range fw.pending {
		data, err := json.Marshal(msg)
		if err != nil {
			slog.Warn("skipping unencodable message", slog.String("file", fw.path), slog.Any("err", err))
			continue
		}
		data = append(data, '\n')
		n, err := fw.writer.Write(data)
		fw.bytesWritten += int64(n)
		if err != nil {
			return fmt.Errorf("write message: %w", err)
		}
	}
	fw.pending = fw.pending[:0]
	return fw.writer.Flush()
}

// close flushes and closes the file
func (fw *fileWriter) close() error {
	flushErr := fw.flush()
	closeErr := fw.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Recorder buffers chat messages and writes them to rotating JSONL files,
// one file per platform and channel. Closed files are handed to the
// uploader over fileChan.
type Recorder struct {
	outputDir   string
	bufferSize  int
	rotateAfter time.Duration
	rotateBytes int64
	now         func() time.Time

	files map[string]*fileWriter // key: "platform_channel"
}

// New creates a new recorder
func New(outputDir string, bufferSize, rotateMinutes, rotateMegabytes int) *Recorder {
	return &Recorder{
		outputDir:   outputDir,
		bufferSize:  bufferSize,
		rotateAfter: time.Duration(rotateMinutes) * time.Minute,
		rotateBytes: int64(rotateMegabytes) * 1024 * 1024,
		now:         time.Now,
		files:       make(map[string]*fileWriter),
	}
}

// Start records messages until ctx is cancelled, then flushes and queues
// every open file.
func (r *Recorder) Start(ctx context.Context, messageChan <-chan message.Message, fileChan chan<- string) error {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case msg := <-messageChan:
			if err := r.record(msg); err != nil {
				slog.Error("failed to record message", slog.String("platform", msg.Platform), slog.Any("err", err))
			}

		case <-ticker.C:
			r.rotateDue(fileChan)

		case <-ctx.Done():
			slog.Info("recorder shutting down, flushing buffers")
			r.closeAll(fileChan)
			return ctx.Err()
		}
	}
}

// record appends msg to its file's buffer, flushing when the buffer is full
func (r *Recorder) record(msg message.Message) error {
	key := fileKey(msg.Platform, msg.Channel)
	fw, ok := r.files[key]
	if !ok {
		var err error
		fw, err = r.open(msg.Platform, msg.Channel)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		r.files[key] = fw
	}

	fw.pending = append(fw.pending, msg)
	if len(fw.pending) >= r.bufferSize {
		if err := fw.flush(); err != nil {
			return fmt.Errorf("flush buffer: %w", err)
		}
	}
	return nil
}

func (r *Recorder) open(platform, channel string) (*fileWriter, error) {
	now := r.now().UTC()
	name := fmt.Sprintf("%s_%s_%s.jsonl", platform, safeName(channel), now.Format(FileTimeLayout))
	path := filepath.Join(r.outputDir, name)

	// Append so a restart within the same minute does not truncate a file
	// that has not been uploaded yet.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	slog.Info("created log file", slog.String("file", name))

	return &fileWriter{
		file:      file,
		writer:    bufio.NewWriter(file),
		path:      path,
		platform:  platform,
		channel:   channel,
		createdAt: now,
		pending:   make([]message.Message, 0, r.bufferSize),
	}, nil
}

// rotateDue flushes every buffer and rotates files past their age or size
// limit
func (r *Recorder) rotateDue(fileChan chan<- string) {
	for key, fw := range r.files {
		if err := fw.flush(); err != nil {
			slog.Error("failed to flush log file", slog.String("file", fw.path), slog.Any("err", err))
		}

		switch {
		case r.now().Sub(fw.createdAt) >= r.rotateAfter:
			slog.Info("rotating log file", slog.String("file", fw.path), slog.String("trigger", "age"))
		case fw.bytesWritten >= r.rotateBytes:
			slog.Info("rotating log file", slog.String("file", fw.path), slog.String("trigger", "size"))
		default:
			continue
		}

		r.release(fw, fileChan)
		delete(r.files, key)
	}
}

// closeAll closes every open file and queues it for upload
func (r *Recorder) closeAll(fileChan chan<- string) {
	for key, fw := range r.files {
		r.release(fw, fileChan)
		delete(r.files, key)
	}
	slog.Info("all log files flushed and closed")
}

// release closes fw and offers it to the uploader without blocking. Files
// that do not fit in the queue are picked up by the startup scan.
func (r *Recorder) release(fw *fileWriter, fileChan chan<- string) {
	if err := fw.close(); err != nil {
		slog.Error("failed to close log file", slog.String("file", fw.path), slog.Any("err", err))
	}
	telemetry.FileRotated()

	select {
	case fileChan <- fw.path:
		slog.Info("queued file for upload", slog.String("file", filepath.Base(fw.path)))
	default:
		slog.Warn("upload queue full, file will be uploaded on next start", slog.String("file", filepath.Base(fw.path)))
	}
}

func fileKey(platform, channel string) string {
	return platform + "_" + channel
}

// safeName keeps channel names usable as file name segments
func safeName(channel string) string {
	if channel == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '-'
		}
		return r
	}, channel)
}
