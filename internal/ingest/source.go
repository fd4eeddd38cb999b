package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/onnwee/cafeindex/internal/venue"
)

// ErrNoS3Client is returned when an s3:// source is opened without a client.
var ErrNoS3Client = errors.New("s3 source requires an s3 client")

const s3Scheme = "s3://"

// ObjectGetter is the subset of the S3 client used for downloads.
type ObjectGetter interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds the settings for an S3-compatible object store.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // empty uses AWS
	Region          string // default "auto"
}

// NewS3Client creates an S3 client with static credentials. A custom
// endpoint switches to path-style addressing, which R2 and MinIO need.
func NewS3Client(cfg S3Config) (*s3.Client, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("access key ID and secret access key are required")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	opts := s3.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts), nil
}

// ParseS3URL splits s3://bucket/key into its parts.
func ParseS3URL(src string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(src, s3Scheme)
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %q", src)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url needs a bucket and a key: %q", src)
	}
	return bucket, key, nil
}

// Open returns a reader for src, which is either a local path or an
// s3://bucket/key url. client may be nil for local paths.
func Open(ctx context.Context, src string, client ObjectGetter) (io.ReadCloser, error) {
	if !strings.HasPrefix(src, s3Scheme) {
		f, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", src, err)
		}
		return f, nil
	}

	if client == nil {
		return nil, ErrNoS3Client
	}
	bucket, key, err := ParseS3URL(src)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", src, err)
	}
	return out.Body, nil
}

// Load opens src and parses it as CSV.
func Load(ctx context.Context, src string, client ObjectGetter) ([]venue.Record, error) {
	rc, err := Open(ctx, src, client)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	recs, err := ReadCSV(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	return recs, nil
}
