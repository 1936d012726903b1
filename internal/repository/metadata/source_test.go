package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

func TestFileSource_Fetch(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sites.json"), []byte(siteDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	src := NewFileSource(dir)

	data, err := src.Fetch(context.Background(), "sites.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != siteDoc {
		t.Error("unexpected content")
	}

	if _, err := src.Fetch(context.Background(), "missing.json"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestFileSource_StaysInDir(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "secret.json"), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(root, "metadata")
	if err := os.Mkdir(sub, 0o700); err != nil {
		t.Fatal(err)
	}

	_, err := NewFileSource(sub).Fetch(context.Background(), "../secret.json")
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected key to be confined to dir, got %v", err)
	}
}

func TestS3Source_Fetch(t *testing.T) {
	client := &mockS3{getFn: func(in *s3.GetObjectInput) ([]byte, error) {
		if aws.ToString(in.Bucket) != "dashboard-metadata" || aws.ToString(in.Key) != "prod-site-metadata.json" {
			t.Errorf("unexpected object %s/%s", aws.ToString(in.Bucket), aws.ToString(in.Key))
		}
		return []byte(siteDoc), nil
	}}

	src := NewS3Source(client, "dashboard-metadata", nil, nil, nil)
	data, err := src.Fetch(context.Background(), "prod-site-metadata.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != siteDoc {
		t.Error("unexpected content")
	}
}

func TestS3Source_MissingUsesFallback(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"typed NoSuchKey", &types.NoSuchKey{}},
		{"generic api error", &smithy.GenericAPIError{Code: "ResourceNotFoundException"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &mockS3{getFn: func(*s3.GetObjectInput) ([]byte, error) { return nil, tc.err }}
			fallback := &mockSource{}

			src := NewS3Source(client, "b", fallback, map[string]string{"prod-sites.json": "sites.json"}, nil)
			data, err := src.Fetch(context.Background(), "prod-sites.json")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(data) != siteDoc {
				t.Error("expected fallback content")
			}
		})
	}
}

func TestS3Source_MissingWithoutFallback(t *testing.T) {
	client := &mockS3{getFn: func(*s3.GetObjectInput) ([]byte, error) { return nil, &types.NoSuchKey{} }}

	_, err := NewS3Source(client, "b", nil, nil, nil).Fetch(context.Background(), "k")
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestS3Source_OtherErrorsPropagate(t *testing.T) {
	denied := &smithy.GenericAPIError{Code: "AccessDenied"}
	client := &mockS3{getFn: func(*s3.GetObjectInput) ([]byte, error) { return nil, denied }}
	fallback := &mockSource{}

	_, err := NewS3Source(client, "b", fallback, map[string]string{"k": "sites.json"}, nil).Fetch(context.Background(), "k")
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "AccessDenied" {
		t.Errorf("expected AccessDenied, got %v", err)
	}
	if fallback.callCount.Load() != 0 {
		t.Error("fallback must only serve missing objects")
	}
}
