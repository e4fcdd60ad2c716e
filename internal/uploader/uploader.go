package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/cenkalti/backoff/v5"

	"github.com/john/livechat/internal/recorder"
	"github.com/john/livechat/internal/telemetry"
)

// objectPutter is the slice of the S3 API the uploader needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures an Uploader.
type Options struct {
	Bucket          string
	Region          string
	RoleARN         string // OIDC web identity role; takes precedence over static keys
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // S3-compatible endpoint, path-style addressing
	DeleteAfter     bool
	MaxRetries      int
}

// Uploader handles uploading completed log files to S3
type Uploader struct {
	s3          objectPutter
	bucket      string
	deleteAfter bool
	maxRetries  int
	backoff     func() backoff.BackOff
}

// flyTokenRetriever implements stscreds.IdentityTokenRetriever for Fly.io OIDC
type flyTokenRetriever struct {
	socketPath string
	audience   string
}

// GetIdentityToken fetches an OIDC token from Fly.io's Unix socket API
func (f *flyTokenRetriever) GetIdentityToken() ([]byte, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", f.socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}

	reqBody, err := json.Marshal(map[string]string{"aud": f.audience})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := client.Post("http://localhost/v1/tokens/oidc", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	token, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	return token, nil
}

// New creates an S3 uploader. With a role ARN it assumes the role through
// Fly.io OIDC; otherwise it uses the static key pair.
func New(ctx context.Context, opts Options) (*Uploader, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.RoleARN == "" {
		slog.Warn("using static AWS credentials (deprecated), migrate to OIDC")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if opts.RoleARN != "" {
		slog.Info("using OIDC authentication", slog.String("role_arn", opts.RoleARN))
		provider := stscreds.NewWebIdentityRoleProvider(
			sts.NewFromConfig(cfg),
			opts.RoleARN,
			&flyTokenRetriever{socketPath: "/.fly/api", audience: "sts.amazonaws.com"},
		)
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newUploader(client, opts.Bucket, opts.DeleteAfter, opts.MaxRetries), nil
}

func newUploader(client objectPutter, bucket string, deleteAfter bool, maxRetries int) *Uploader {
	return &Uploader{
		s3:          client,
		bucket:      bucket,
		deleteAfter: deleteAfter,
		maxRetries:  maxRetries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			return b
		},
	}
}

// ScanAndUploadExisting uploads .jsonl files left in outputDir by a previous run
func (u *Uploader) ScanAndUploadExisting(ctx context.Context, outputDir string) error {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read directory: %w", err)
	}

	var pending []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".jsonl") {
			pending = append(pending, filepath.Join(outputDir, entry.Name()))
		}
	}

	if len(pending) == 0 {
		slog.Info("no leftover log files to upload", slog.String("dir", outputDir))
		return nil
	}
	slog.Info("uploading leftover log files", slog.Int("count", len(pending)))

	for _, path := range pending {
		go u.uploadWithRetry(ctx, path)
	}
	return nil
}

// Start uploads every file received on fileChan until ctx is cancelled
func (u *Uploader) Start(ctx context.Context, fileChan <-chan string) error {
	for {
		select {
		case localPath := <-fileChan:
			go u.uploadWithRetry(ctx, localPath)

		case <-ctx.Done():
			slog.Info("uploader shutting down")
			return ctx.Err()
		}
	}
}

// uploadWithRetry uploads a file with exponential backoff, then optionally
// removes the local copy
func (u *Uploader) uploadWithRetry(ctx context.Context, localPath string) {
	filename := filepath.Base(localPath)

	key, err := objectKey(filename)
	if err != nil {
		slog.Error("cannot derive object key", slog.String("file", filename), slog.Any("err", err))
		return
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, u.uploadFile(ctx, localPath, key)
	},
		backoff.WithBackOff(u.backoff()),
		backoff.WithMaxTries(uint(u.maxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Warn("upload failed, retrying", slog.String("file", filename), slog.Duration("wait", wait), slog.Any("err", err))
		}),
	)
	if err != nil {
		telemetry.UploadResult("failed")
		slog.Error("giving up on upload", slog.String("file", filename), slog.Int("attempts", u.maxRetries+1), slog.Any("err", err))
		return
	}

	telemetry.UploadResult("ok")
	slog.Info("uploaded log file", slog.String("file", filename), slog.String("uri", fmt.Sprintf("s3://%s/%s", u.bucket, key)))

	if u.deleteAfter {
		if err := os.Remove(localPath); err != nil {
			slog.Error("failed to delete local file", slog.String("file", localPath), slog.Any("err", err))
		}
	}
}

// uploadFile puts one file to S3
func (u *Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		// A missing file will not appear on retry.
		return backoff.Permanent(fmt.Errorf("open file: %w", err))
	}
	defer file.Close()

	_, err = u.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// objectKey derives the S3 key from a log file name
// Input: youtube_jfKfPfyJRdk_20251230_1030.jsonl
// Output: 2025/12/30/youtube/jfKfPfyJRdk/youtube_jfKfPfyJRdk_20251230_1030.jsonl
func objectKey(filename string) (string, error) {
	base := strings.TrimSuffix(filename, ".jsonl")

	// Channel names and video ids may contain underscores, so the date and
	// time are taken from the end.
	parts := strings.Split(base, "_")
	if len(parts) < 4 {
		return "", fmt.Errorf("invalid filename format: %s", filename)
	}

	platform := parts[0]
	channel := strings.Join(parts[1:len(parts)-2], "_")
	stamp := parts[len(parts)-2] + "_" + parts[len(parts)-1]

	t, err := time.Parse(recorder.FileTimeLayout, stamp)
	if err != nil {
		return "", fmt.Errorf("parse timestamp: %w", err)
	}

	return fmt.Sprintf("%04d/%02d/%02d/%s/%s/%s",
		t.Year(), t.Month(), t.Day(), platform, channel, filename), nil
}
