// Package metadata loads the dataset and site metadata documents.
package metadata

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	dommeta "github.com/kailas-cloud/dashboard-api/internal/domain/metadata"
)

// DefaultTTL is how long a loaded document is reused.
const DefaultTTL = 60 * time.Second

// Config holds the document keys and reuse interval.
type Config struct {
	DatasetKey string
	SiteKey    string
	TTL        time.Duration
}

type entry[T any] struct {
	val      T
	loadedAt time.Time
	ok       bool
}

// Store parses metadata documents from a Source and keeps them for a TTL.
// Concurrent loads of the same document are collapsed into one fetch.
type Store struct {
	source Source
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	group    singleflight.Group
	mu       sync.RWMutex
	datasets entry[dommeta.Index]
	sites    entry[[]dommeta.Site]
}

// NewStore creates a Store.
func NewStore(source Source, cfg Config, logger *zap.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{source: source, cfg: cfg, logger: logger, now: time.Now}
}

// Datasets returns the parsed dataset metadata document.
// The returned index is shared and must not be modified.
func (s *Store) Datasets(ctx context.Context) (dommeta.Index, error) {
	s.mu.RLock()
	e := s.datasets
	s.mu.RUnlock()
	if s.fresh(e.ok, e.loadedAt) {
		return e.val, nil
	}

	v, err, _ := s.group.Do("datasets", func() (any, error) {
		data, err := s.source.Fetch(context.WithoutCancel(ctx), s.cfg.DatasetKey)
		if err != nil {
			return nil, fmt.Errorf("fetch dataset metadata: %w", err)
		}
		idx, err := parseDatasetIndex(data)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.datasets = entry[dommeta.Index]{val: idx, loadedAt: s.now(), ok: true}
		s.mu.Unlock()
		s.logger.Info("dataset metadata loaded",
			zap.String("key", s.cfg.DatasetKey),
			zap.Int("datasets", len(idx.All)),
			zap.Int("scopes", len(idx.Scopes)),
		)
		return idx, nil
	})
	if err != nil {
		return dommeta.Index{}, err
	}
	return v.(dommeta.Index), nil
}

// Sites returns the parsed site metadata document.
func (s *Store) Sites(ctx context.Context) ([]dommeta.Site, error) {
	s.mu.RLock()
	e := s.sites
	s.mu.RUnlock()
	if s.fresh(e.ok, e.loadedAt) {
		return slices.Clone(e.val), nil
	}

	v, err, _ := s.group.Do("sites", func() (any, error) {
		data, err := s.source.Fetch(context.WithoutCancel(ctx), s.cfg.SiteKey)
		if err != nil {
			return nil, fmt.Errorf("fetch site metadata: %w", err)
		}
		sites, err := parseSites(data)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.sites = entry[[]dommeta.Site]{val: sites, loadedAt: s.now(), ok: true}
		s.mu.Unlock()
		s.logger.Info("site metadata loaded",
			zap.String("key", s.cfg.SiteKey),
			zap.Int("sites", len(sites)),
		)
		return sites, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]dommeta.Site)), nil
}

// Ping checks that both documents can be loaded.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.Sites(ctx); err != nil {
		return err
	}
	_, err := s.Datasets(ctx)
	return err
}

func (s *Store) fresh(ok bool, loadedAt time.Time) bool {
	return ok && s.now().Sub(loadedAt) < s.cfg.TTL
}
