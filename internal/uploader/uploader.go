// Package uploader ships the recorder's closed event logs to S3.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const contentType = "application/x-ndjson"

// objectPutter is the part of the S3 client the uploader needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures the S3 client and upload behaviour.
type Options struct {
	Bucket               string
	Region               string
	Endpoint             string // S3-compatible endpoint, uses path-style addressing
	AccessKeyID          string
	SecretAccessKey      string
	RoleARN              string
	WebIdentityTokenFile string
	DeleteAfterUpload    bool
	MaxRetries           int
}

// Uploader handles uploading completed log files to S3
type Uploader struct {
	client      objectPutter
	bucket      string
	deleteAfter bool
	maxRetries  int
	retryDelay  time.Duration
	logger      *zap.Logger

	wg sync.WaitGroup
}

// New creates an S3 uploader. Credentials come from the static keys when
// set, from the web identity role when RoleARN is set, and from the default
// AWS chain otherwise.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Uploader, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if opts.RoleARN != "" {
		provider := stscreds.NewWebIdentityRoleProvider(
			sts.NewFromConfig(cfg),
			opts.RoleARN,
			stscreds.IdentityTokenFile(opts.WebIdentityTokenFile),
		)
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newUploader(client, opts, logger), nil
}

func newUploader(client objectPutter, opts Options, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		client:      client,
		bucket:      opts.Bucket,
		deleteAfter: opts.DeleteAfterUpload,
		maxRetries:  opts.MaxRetries,
		retryDelay:  time.Second,
		logger:      logger.With(zap.String("bucket", opts.Bucket)),
	}
}

// ScanAndUploadExisting uploads the .jsonl files left in outputDir by an
// earlier run. It must be called before the recorder opens new files.
func (u *Uploader) ScanAndUploadExisting(ctx context.Context, outputDir string) error {
	entries, err := os.ReadDir(outputDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}

	var found int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		found++
		u.spawn(ctx, filepath.Join(outputDir, entry.Name()))
	}
	u.logger.Info("Scanned for leftover event logs", zap.String("dir", outputDir), zap.Int("files", found))
	return nil
}

// Start uploads every path received on files. It returns nil once files is
// closed and all uploads have finished, or ctx.Err() when ctx is done.
func (u *Uploader) Start(ctx context.Context, files <-chan string) error {
	for {
		select {
		case path, ok := <-files:
			if !ok {
				u.wg.Wait()
				return nil
			}
			u.spawn(ctx, path)

		case <-ctx.Done():
			u.logger.Info("Uploader shutting down...")
			u.wg.Wait()
			return ctx.Err()
		}
	}
}

func (u *Uploader) spawn(ctx context.Context, path string) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		_ = u.uploadWithRetry(ctx, path)
	}()
}

// uploadWithRetry uploads a file, retrying up to maxRetries times.
func (u *Uploader) uploadWithRetry(ctx context.Context, localPath string) error {
	filename := filepath.Base(localPath)
	log := u.logger.With(zap.String("file", filename))

	key, err := ObjectKey(filename)
	if err != nil {
		log.Error("Skipping file with unexpected name", zap.Error(err))
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = u.retryDelay
	b.Reset()

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, u.uploadFile(ctx, localPath, key)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(u.maxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("Upload failed, retrying", zap.Error(err), zap.Duration("retry_in", next))
		}),
	)
	if err != nil {
		log.Error("Giving up on upload", zap.Int("attempts", u.maxRetries+1), zap.Error(err))
		return err
	}
	log.Info("Uploaded event log", zap.String("key", key))

	if u.deleteAfter {
		if err := os.Remove(localPath); err != nil {
			log.Error("Error deleting local file", zap.Error(err))
		}
	}
	return nil
}

// uploadFile uploads a specific file to S3
func (u *Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return backoff.Permanent(fmt.Errorf("open file: %w", err))
		}
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// ObjectKey maps a recorder file name to its S3 key.
// Input:  douyu_288016_20240501_120000.jsonl
// Output: 2024/05/01/douyu/288016/douyu_288016_20240501_120000.jsonl
func ObjectKey(filename string) (string, error) {
	name := strings.TrimSuffix(filename, ".jsonl")

	// Room ids may contain underscores, so parse from the end
	parts := strings.Split(name, "_")
	if len(parts) < 4 || name == filename {
		return "", fmt.Errorf("invalid filename format: %s", filename)
	}
	platform := parts[0]
	room := strings.Join(parts[1:len(parts)-2], "_")

	t, err := time.Parse("20060102_150405", parts[len(parts)-2]+"_"+parts[len(parts)-1])
	if err != nil {
		return "", fmt.Errorf("parse timestamp: %w", err)
	}

	return fmt.Sprintf("%04d/%02d/%02d/%s/%s/%s",
		t.Year(), t.Month(), t.Day(), platform, room, filename), nil
}
