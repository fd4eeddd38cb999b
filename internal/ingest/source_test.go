package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// mockS3Client serves GetObject from a function.
type mockS3Client struct {
	getObjectFunc func(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func (m *mockS3Client) GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return m.getObjectFunc(ctx, input, opts...)
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		in          string
		bucket, key string
		wantErr     bool
	}{
		{"s3://cafes/exports/cafes.csv", "cafes", "exports/cafes.csv", false},
		{"s3://cafes/", "", "", true},
		{"s3:///cafes.csv", "", "", true},
		{"/tmp/cafes.csv", "", "", true},
	}
	for _, tt := range tests {
		bucket, key, err := ParseS3URL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseS3URL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if bucket != tt.bucket || key != tt.key {
			t.Errorf("ParseS3URL(%q) = %q, %q", tt.in, bucket, key)
		}
	}
}

func TestLoad_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cafes.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o600); err != nil {
		t.Fatal(err)
	}
	recs, err := Load(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("expected 2 records, got %d", len(recs))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoad_S3(t *testing.T) {
	var gotBucket, gotKey string
	client := &mockS3Client{
		getObjectFunc: func(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			gotBucket, gotKey = *input.Bucket, *input.Key
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(sampleCSV))}, nil
		},
	}

	recs, err := Load(context.Background(), "s3://venues/daily/cafes.csv", client)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if gotBucket != "venues" || gotKey != "daily/cafes.csv" {
		t.Errorf("GetObject called with %q/%q", gotBucket, gotKey)
	}
	if len(recs) != 2 {
		t.Errorf("expected 2 records, got %d", len(recs))
	}
}

func TestOpen_S3Errors(t *testing.T) {
	if _, err := Open(context.Background(), "s3://venues/cafes.csv", nil); !errors.Is(err, ErrNoS3Client) {
		t.Errorf("expected ErrNoS3Client, got %v", err)
	}

	boom := errors.New("access denied")
	client := &mockS3Client{
		getObjectFunc: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return nil, boom
		},
	}
	if _, err := Open(context.Background(), "s3://venues/cafes.csv", client); !errors.Is(err, boom) {
		t.Errorf("expected wrapped GetObject error, got %v", err)
	}
}

func TestNewS3Client(t *testing.T) {
	if _, err := NewS3Client(S3Config{}); err == nil {
		t.Error("expected error without credentials")
	}
	c, err := NewS3Client(S3Config{AccessKeyID: "id", SecretAccessKey: "secret", Endpoint: "http://localhost:9000"})
	if err != nil || c == nil {
		t.Fatalf("NewS3Client() = %v, %v", c, err)
	}
	if !c.Options().UsePathStyle {
		t.Error("custom endpoint should use path-style addressing")
	}
}
