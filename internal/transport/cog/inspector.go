// Package cog reads Cloud Optimized GeoTIFF headers over ranged reads.
package cog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dashboard-api/internal/domain/mosaic"
	"github.com/kailas-cloud/dashboard-api/internal/metrics"
)

// DefaultHeaderBytes is the prefetch size; COG headers usually fit in it.
const DefaultHeaderBytes = 64 * 1024

// ObjectGetter is the subset of the S3 client used for s3:// assets.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Inspector reads raster metadata from COG assets.
type Inspector struct {
	httpClient  *http.Client
	s3          ObjectGetter
	headerBytes int64
	logger      *zap.Logger
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithHTTPClient sets the HTTP client used for http(s) assets.
func WithHTTPClient(hc *http.Client) Option {
	return func(i *Inspector) { i.httpClient = hc }
}

// WithS3 enables s3:// assets.
func WithS3(c ObjectGetter) Option {
	return func(i *Inspector) { i.s3 = c }
}

// WithHeaderBytes sets the prefetch size.
func WithHeaderBytes(n int) Option {
	return func(i *Inspector) {
		if n > 0 {
			i.headerBytes = int64(n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Inspector) { i.logger = l }
}

// NewInspector creates an Inspector.
func NewInspector(opts ...Option) *Inspector {
	i := &Inspector{
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		headerBytes: DefaultHeaderBytes,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Header returns the parsed GeoTIFF header of the asset at href.
func (i *Inspector) Header(ctx context.Context, href string) (Header, error) {
	fetch, err := i.rangeReader(href)
	if err != nil {
		return Header{}, err
	}

	buf, err := fetch(ctx, 0, i.headerBytes)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues("cog", "header", "error").Inc()
		return Header{}, fmt.Errorf("read header of %s: %w", href, err)
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("cog", "header", "ok").Inc()

	h, err := parse(ctx, buf, fetch)
	if err != nil {
		return Header{}, fmt.Errorf("parse %s: %w", href, err)
	}
	i.logger.Debug("COG header read",
		zap.String("href", href),
		zap.Int("width", h.Width),
		zap.Int("height", h.Height),
		zap.Int("epsg", h.EPSG),
		zap.Int("overviews", h.Overviews),
	)
	return h, nil
}

// Inspect returns the resolution metadata the zoom derivation needs.
func (i *Inspector) Inspect(ctx context.Context, href string) (mosaic.Raster, error) {
	h, err := i.Header(ctx, href)
	if err != nil {
		return mosaic.Raster{}, err
	}
	return mosaic.Raster{
		Width:      h.Width,
		Height:     h.Height,
		ResX:       h.ScaleX,
		ResY:       h.ScaleY,
		Geographic: h.Geographic(),
	}, nil
}

func (i *Inspector) rangeReader(href string) (rangeFunc, error) {
	u, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("invalid asset href %q: %w", href, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return func(ctx context.Context, off, n int64) ([]byte, error) {
			return i.httpRange(ctx, href, off, n)
		}, nil
	case "s3":
		if i.s3 == nil {
			return nil, fmt.Errorf("s3 assets are not enabled: %s", href)
		}
		bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
		if bucket == "" || key == "" {
			return nil, fmt.Errorf("invalid s3 href %q", href)
		}
		return func(ctx context.Context, off, n int64) ([]byte, error) {
			return i.s3Range(ctx, bucket, key, off, n)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported asset scheme %q", u.Scheme)
	}
}

func byteRange(off, n int64) string {
	return fmt.Sprintf("bytes=%d-%d", off, off+n-1)
}

func (i *Inspector) httpRange(ctx context.Context, href string, off, n int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", byteRange(off, n))

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return io.ReadAll(io.LimitReader(resp.Body, n))
	case http.StatusOK:
		// server ignored Range: skip to the offset
		if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil {
			return nil, err
		}
		return io.ReadAll(io.LimitReader(resp.Body, n))
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, io.ErrUnexpectedEOF
	default:
		return nil, fmt.Errorf("GET %s: status %d", href, resp.StatusCode)
	}
}

func (i *Inspector) s3Range(ctx context.Context, bucket, key string, off, n int64) ([]byte, error) {
	out, err := i.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(byteRange(off, n)),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, n))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return data, nil
}
