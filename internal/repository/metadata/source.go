package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// ErrDocumentNotFound is returned when a metadata document does not exist.
var ErrDocumentNotFound = errors.New("metadata document not found")

// Source fetches raw metadata documents by key.
type Source interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// FileSource reads documents from a local directory.
type FileSource struct {
	dir string
}

// NewFileSource creates a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Fetch reads dir/key. Keys cannot escape dir.
func (f *FileSource) Fetch(_ context.Context, key string) ([]byte, error) {
	path := filepath.Join(f.dir, filepath.Clean("/"+key))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// ObjectGetter is the subset of the S3 client the source needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads documents from a bucket. Missing objects are served from
// local fallback files when one is configured for the key.
type S3Source struct {
	client    ObjectGetter
	bucket    string
	fallback  Source
	fallbacks map[string]string // object key -> fallback key
	logger    *zap.Logger
}

// NewS3Source creates an S3Source. fallback may be nil.
func NewS3Source(client ObjectGetter, bucket string, fallback Source, fallbacks map[string]string, logger *zap.Logger) *S3Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Source{
		client:    client,
		bucket:    bucket,
		fallback:  fallback,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

// Fetch reads s3://bucket/key.
func (s *S3Source) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isMissing(err) {
			return s.fetchFallback(ctx, key)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	s.logger.Debug("metadata loaded from S3", zap.String("bucket", s.bucket), zap.String("key", key))
	return data, nil
}

func (s *S3Source) fetchFallback(ctx context.Context, key string) ([]byte, error) {
	name, ok := s.fallbacks[key]
	if !ok || s.fallback == nil {
		return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrDocumentNotFound)
	}
	s.logger.Warn("metadata object missing, using fallback",
		zap.String("bucket", s.bucket),
		zap.String("key", key),
		zap.String("fallback", name),
	)
	return s.fallback.Fetch(ctx, name)
}

func isMissing(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "ResourceNotFoundException":
			return true
		}
	}
	return false
}
