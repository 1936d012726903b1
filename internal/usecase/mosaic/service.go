// Package mosaic orchestrates mosaic creation: catalog search, definition
// assembly, token acquisition and publishing.
package mosaic

import (
	"context"
	"errors"
	"time"

	stacgo "github.com/planetlabs/go-stac"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/dashboard-api/internal/domain"
	dommosaic "github.com/kailas-cloud/dashboard-api/internal/domain/mosaic"
	"github.com/kailas-cloud/dashboard-api/internal/logger"
	"github.com/kailas-cloud/dashboard-api/internal/metrics"
)

// Timeouts holds the per-stage budgets. Zero disables the stage deadline.
type Timeouts struct {
	Search   time.Duration
	Assemble time.Duration
	Token    time.Duration
	Publish  time.Duration
}

// DefaultTimeouts are the stage budgets used when none are configured.
var DefaultTimeouts = Timeouts{
	Search:   10 * time.Second,
	Assemble: 20 * time.Second,
	Token:    5 * time.Second,
	Publish:  5 * time.Second,
}

// Service creates and describes mosaics.
type Service struct {
	search    Searcher
	assembler DefinitionBuilder
	tokens    TokenBroker
	publisher Publisher
	apiRoot   string
	timeouts  Timeouts
	layerName func() string
}

// New creates a mosaic service. apiRoot is the tile server root used in record links.
func New(
	search Searcher, assembler DefinitionBuilder,
	tokens TokenBroker, publisher Publisher, apiRoot string,
) *Service {
	return &Service{
		search: search, assembler: assembler,
		tokens: tokens, publisher: publisher,
		apiRoot:   apiRoot,
		timeouts:  DefaultTimeouts,
		layerName: dommosaic.NewLayerName,
	}
}

// WithTimeouts configures the stage budgets.
func (s *Service) WithTimeouts(t Timeouts) *Service {
	s.timeouts = t
	return s
}

// Create runs the pipeline for one request. The token is fetched while the
// search and assembly run; publishing waits for both. The first failing stage
// aborts the rest and no stage is retried.
func (s *Service) Create(ctx context.Context, params dommosaic.SearchParams) (dommosaic.Record, error) {
	req, err := dommosaic.NewSearchRequest(params)
	if err != nil {
		return dommosaic.Record{}, err
	}
	log := logger.FromContext(ctx).With(zap.String("username", req.Username()))

	var (
		def   dommosaic.Definition
		token string
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		items, err := runStage(gctx, domain.StageSearch, s.timeouts.Search,
			func(ctx context.Context) ([]*stacgo.Item, error) {
				return s.search.Search(ctx, req)
			})
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return domain.NewDetailError(domain.ErrEmptySearchResult, "STAC API Search returned no results", nil)
		}
		log.Debug("catalog search finished", zap.Int("items", len(items)))

		def, err = runStage(gctx, domain.StageAssemble, s.timeouts.Assemble,
			func(ctx context.Context) (dommosaic.Definition, error) {
				return s.assembler.Assemble(ctx, items)
			})
		return err
	})

	g.Go(func() error {
		var err error
		token, err = runStage(gctx, domain.StageToken, s.timeouts.Token,
			func(ctx context.Context) (string, error) {
				return s.tokens.CreateToken(ctx, req.Username())
			})
		return err
	})

	if err := g.Wait(); err != nil {
		log.Warn("mosaic pipeline failed", zap.Error(err))
		return dommosaic.Record{}, err
	}

	layer := s.layerName()
	id, err := runStage(ctx, domain.StagePublish, s.timeouts.Publish,
		func(ctx context.Context) (string, error) {
			return s.publisher.Upload(ctx, layer, req.Username(), token, def)
		})
	if err != nil {
		log.Warn("mosaic publish failed", zap.String("layer", layer), zap.Error(err))
		return dommosaic.Record{}, err
	}

	metrics.MosaicsCreatedTotal.Inc()
	log.Info("mosaic created",
		zap.String("mosaic_id", id),
		zap.Int("minzoom", def.MinZoom()),
		zap.Int("maxzoom", def.MaxZoom()),
		zap.Int("quadkeys", len(def.Quadkeys())),
	)
	return dommosaic.NewRecord(id, s.apiRoot), nil
}

// Get describes an existing mosaic. Existence is not checked upstream.
func (s *Service) Get(_ context.Context, id string) (dommosaic.Record, error) {
	if id == "" {
		return dommosaic.Record{}, domain.NewDetailError(domain.ErrInvalidRequest, "invalid mosaic ID", nil)
	}
	return dommosaic.NewRecord(id, s.apiRoot), nil
}

type stageResult[T any] struct {
	val T
	err error
}

// runStage runs fn under its own deadline. On expiry it returns a
// StageTimeoutError at once; the late result is dropped into the buffered channel.
func runStage[T any](
	ctx context.Context, stage domain.Stage, timeout time.Duration,
	fn func(context.Context) (T, error),
) (T, error) {
	parent := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	start := time.Now()
	done := make(chan stageResult[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- stageResult[T]{val: v, err: err}
	}()

	var res stageResult[T]
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	if res.err != nil && expired(ctx, parent) {
		res.err = domain.NewStageTimeout(stage)
	}
	res.err = domain.InStage(stage, res.err)
	observeStage(stage, time.Since(start), res.err)
	if res.err != nil {
		var zero T
		return zero, res.err
	}
	return res.val, nil
}

// expired reports whether the stage's own deadline fired, as opposed to the
// caller cancelling.
func expired(ctx, parent context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil
}

func observeStage(stage domain.Stage, d time.Duration, err error) {
	result := "ok"
	switch {
	case errors.Is(err, domain.ErrStageTimeout):
		result = "timeout"
	case err != nil:
		result = "error"
	}
	metrics.MosaicStageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	metrics.MosaicStageTotal.WithLabelValues(string(stage), result).Inc()
}
