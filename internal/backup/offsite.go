package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/dukerupert/patrimonio/internal/metrics"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// offsite copies finished backups to object storage. Calls go through a
// circuit breaker so an unreachable bucket does not stall every backup.
type offsite struct {
	client     s3Client
	bucket     string
	passphrase string
	breaker    *gobreaker.CircuitBreaker[any]
	logger     *slog.Logger
}

func newOffsite(client s3Client, bucket, passphrase string, logger *slog.Logger) *offsite {
	o := &offsite{
		client:     client,
		bucket:     bucket,
		passphrase: passphrase,
		logger:     logger,
	}
	o.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "backup-offsite",
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("offsite circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return o
}

func (o *offsite) keyFor(filename string) string {
	if o.passphrase != "" {
		return "backups/" + filename + ".enc"
	}
	return "backups/" + filename
}

// upload stores the file under a key derived from filename, encrypting it
// first when a passphrase is configured. It returns the object key.
func (o *offsite) upload(ctx context.Context, filename, path string) (string, error) {
	key := o.keyFor(filename)
	src := path
	if o.passphrase != "" {
		enc := path + ".enc"
		if err := EncryptFile(path, enc, o.passphrase); err != nil {
			return "", err
		}
		defer os.Remove(enc)
		src = enc
	}

	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat upload source: %w", err)
	}

	_, err = o.breaker.Execute(func() (any, error) {
		return o.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(o.bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(stat.Size()),
		})
	})
	if err != nil {
		metrics.OffsiteUploads.WithLabelValues("error").Inc()
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	metrics.OffsiteUploads.WithLabelValues("ok").Inc()
	return key, nil
}

// fetch downloads key into dst, decrypting when a passphrase is configured.
func (o *offsite) fetch(ctx context.Context, key, dst string) error {
	res, err := o.breaker.Execute(func() (any, error) {
		return o.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(o.bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	body := res.(*s3.GetObjectOutput).Body
	defer body.Close()

	raw := dst
	if o.passphrase != "" {
		raw = dst + ".enc"
		defer os.Remove(raw)
	}
	out, err := os.Create(raw)
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		return fmt.Errorf("write downloaded file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close downloaded file: %w", err)
	}

	if o.passphrase != "" {
		return DecryptFile(raw, dst, o.passphrase)
	}
	return nil
}

func (o *offsite) remove(ctx context.Context, key string) error {
	_, err := o.breaker.Execute(func() (any, error) {
		return o.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(o.bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return fmt.Errorf("delete s3 object %s: %w", key, err)
	}
	return nil
}
