package mosaic

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	stacgo "github.com/planetlabs/go-stac"

	"github.com/kailas-cloud/dashboard-api/internal/domain"
	dommosaic "github.com/kailas-cloud/dashboard-api/internal/domain/mosaic"
	"github.com/kailas-cloud/dashboard-api/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

// --- Mocks ---

type mockSearcher struct {
	fn        func(ctx context.Context, req dommosaic.SearchRequest) ([]*stacgo.Item, error)
	callCount atomic.Int32
}

func (m *mockSearcher) Search(ctx context.Context, req dommosaic.SearchRequest) ([]*stacgo.Item, error) {
	m.callCount.Add(1)
	if m.fn != nil {
		return m.fn(ctx, req)
	}
	return []*stacgo.Item{testItem("a", 0)}, nil
}

type mockAssembler struct {
	fn        func(ctx context.Context, items []*stacgo.Item) (dommosaic.Definition, error)
	callCount atomic.Int32
}

func (m *mockAssembler) Assemble(ctx context.Context, items []*stacgo.Item) (dommosaic.Definition, error) {
	m.callCount.Add(1)
	if m.fn != nil {
		return m.fn(ctx, items)
	}
	g := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}.ToPolygon()
	return dommosaic.NewDefinition(8, 13, []dommosaic.Feature{{Geometry: g, Asset: "a.tif"}})
}

type mockTokens struct {
	fn        func(ctx context.Context, username string) (string, error)
	callCount atomic.Int32
}

func (m *mockTokens) CreateToken(ctx context.Context, username string) (string, error) {
	m.callCount.Add(1)
	if m.fn != nil {
		return m.fn(ctx, username)
	}
	return "token-" + username, nil
}

type mockPublisher struct {
	fn        func(ctx context.Context, layer, username, token string) (string, error)
	callCount atomic.Int32
	lastToken string
}

func (m *mockPublisher) Upload(ctx context.Context, layer, username, token string, _ dommosaic.Definition) (string, error) {
	m.callCount.Add(1)
	m.lastToken = token
	if m.fn != nil {
		return m.fn(ctx, layer, username, token)
	}
	return username + "." + layer, nil
}

type fixture struct {
	search    *mockSearcher
	assembler *mockAssembler
	tokens    *mockTokens
	publisher *mockPublisher
	svc       *Service
}

func newFixture() *fixture {
	f := &fixture{
		search:    &mockSearcher{},
		assembler: &mockAssembler{},
		tokens:    &mockTokens{},
		publisher: &mockPublisher{},
	}
	f.svc = New(f.search, f.assembler, f.tokens, f.publisher, "https://titiler.example.com")
	f.svc.layerName = func() string { return "layer0123" }
	return f
}

func validParams() dommosaic.SearchParams {
	return dommosaic.SearchParams{
		STACAPIRoot: "https://earth-search.aws.element84.com/v1",
		Username:    "test_user",
		Collections: []string{"sentinel-2-l2a"},
		BBox:        []float64{-10, -10, 10, 10},
	}
}

// blockUntilDone waits for ctx to end and reports its error.
func blockUntilDone[T any](ctx context.Context) (T, error) {
	var zero T
	<-ctx.Done()
	return zero, ctx.Err()
}

// --- Tests ---

func TestCreate_Success(t *testing.T) {
	f := newFixture()

	rec, err := f.svc.Create(context.Background(), validParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID() != "test_user.layer0123" {
		t.Errorf("unexpected id: %s", rec.ID())
	}
	if !strings.HasPrefix(rec.ID(), "test_user") {
		t.Errorf("id should be scoped to the username: %s", rec.ID())
	}
	links := rec.Links()
	if len(links) != 1 || links[0].Href != "https://titiler.example.com/mosaicjson/test_user.layer0123/tilejson.json" {
		t.Errorf("unexpected links: %+v", links)
	}
	if f.publisher.lastToken != "token-test_user" {
		t.Errorf("publisher got token %q", f.publisher.lastToken)
	}
	for name, n := range map[string]int32{
		"search": f.search.callCount.Load(), "assemble": f.assembler.callCount.Load(),
		"token": f.tokens.callCount.Load(), "publish": f.publisher.callCount.Load(),
	} {
		if n != 1 {
			t.Errorf("%s called %d times", name, n)
		}
	}
}

func TestCreate_InvalidRequestMakesNoCalls(t *testing.T) {
	f := newFixture()
	p := validParams()
	p.Username = ""

	_, err := f.svc.Create(context.Background(), p)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if domain.Detail(err) != "username parameter must be defined." {
		t.Errorf("unexpected detail: %q", domain.Detail(err))
	}
	if f.search.callCount.Load()+f.tokens.callCount.Load()+f.publisher.callCount.Load() != 0 {
		t.Error("no collaborator should be called for an invalid request")
	}
}

func TestCreate_EmptySearchResult(t *testing.T) {
	f := newFixture()
	f.search.fn = func(context.Context, dommosaic.SearchRequest) ([]*stacgo.Item, error) {
		return nil, nil
	}

	_, err := f.svc.Create(context.Background(), validParams())
	if !errors.Is(err, domain.ErrEmptySearchResult) {
		t.Fatalf("expected ErrEmptySearchResult, got %v", err)
	}
	if domain.Detail(err) != "STAC API Search returned no results" {
		t.Errorf("unexpected detail: %q", domain.Detail(err))
	}
	if f.assembler.callCount.Load() != 0 || f.publisher.callCount.Load() != 0 {
		t.Error("assemble and publish must not run after an empty search")
	}
}

func TestCreate_SearchFailure(t *testing.T) {
	f := newFixture()
	searchErr := domain.NewDetailError(domain.ErrCatalogSearch, "STAC Search error: boom", nil)
	f.search.fn = func(context.Context, dommosaic.SearchRequest) ([]*stacgo.Item, error) {
		return nil, searchErr
	}

	_, err := f.svc.Create(context.Background(), validParams())
	if !errors.Is(err, domain.ErrCatalogSearch) {
		t.Fatalf("expected ErrCatalogSearch, got %v", err)
	}
	if f.publisher.callCount.Load() != 0 {
		t.Error("publish must not run after a failed search")
	}
}

func TestCreate_TokenTimeout(t *testing.T) {
	f := newFixture()
	f.svc.WithTimeouts(Timeouts{Search: time.Second, Assemble: time.Second, Token: 20 * time.Millisecond, Publish: time.Second})
	f.tokens.fn = func(ctx context.Context, _ string) (string, error) {
		return blockUntilDone[string](ctx)
	}

	_, err := f.svc.Create(context.Background(), validParams())
	if !errors.Is(err, domain.ErrStageTimeout) {
		t.Fatalf("expected ErrStageTimeout, got %v", err)
	}
	var te *domain.StageTimeoutError
	if !errors.As(err, &te) || te.Stage != domain.StageToken {
		t.Fatalf("expected token stage timeout, got %v", err)
	}
	if domain.Detail(err) != "timeout getting mosaicer access token" {
		t.Errorf("unexpected detail: %q", domain.Detail(err))
	}
	if f.publisher.callCount.Load() != 0 {
		t.Error("publish must not run after a token timeout")
	}
}

func TestCreate_SearchTimeoutCancelsToken(t *testing.T) {
	f := newFixture()
	f.svc.WithTimeouts(Timeouts{Search: 20 * time.Millisecond, Assemble: time.Second, Token: 5 * time.Second, Publish: time.Second})
	f.search.fn = func(ctx context.Context, _ dommosaic.SearchRequest) ([]*stacgo.Item, error) {
		return blockUntilDone[[]*stacgo.Item](ctx)
	}
	tokenCancelled := make(chan struct{})
	f.tokens.fn = func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		close(tokenCancelled)
		return "", ctx.Err()
	}

	_, err := f.svc.Create(context.Background(), validParams())
	var te *domain.StageTimeoutError
	if !errors.As(err, &te) || te.Stage != domain.StageSearch {
		t.Fatalf("expected search stage timeout, got %v", err)
	}

	select {
	case <-tokenCancelled:
	case <-time.After(time.Second):
		t.Error("token stage was not cancelled")
	}
}

func TestCreate_LateResultDiscarded(t *testing.T) {
	f := newFixture()
	f.svc.WithTimeouts(Timeouts{Search: time.Second, Assemble: time.Second, Token: time.Second, Publish: 20 * time.Millisecond})
	f.publisher.fn = func(_ context.Context, layer, username, _ string) (string, error) {
		time.Sleep(300 * time.Millisecond) // ignores cancellation
		return username + "." + layer, nil
	}

	start := time.Now()
	_, err := f.svc.Create(context.Background(), validParams())
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Create waited for the late stage: %v", elapsed)
	}
	if domain.Detail(err) != "timeout creating mosaic in mosaicer service" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCreate_AssembleTimeout(t *testing.T) {
	f := newFixture()
	f.svc.WithTimeouts(Timeouts{Search: time.Second, Assemble: 20 * time.Millisecond, Token: time.Second, Publish: time.Second})
	f.assembler.fn = func(ctx context.Context, _ []*stacgo.Item) (dommosaic.Definition, error) {
		return blockUntilDone[dommosaic.Definition](ctx)
	}

	_, err := f.svc.Create(context.Background(), validParams())
	if domain.Detail(err) != "timeout reading a COG asset and generating MosaicJSON definition" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCreate_PublishFailure(t *testing.T) {
	f := newFixture()
	pubErr := domain.NewDetailError(domain.ErrPublish, "Error creating mosaic on x: Non-200 creating mosaic layer: 500 boom", nil)
	f.publisher.fn = func(context.Context, string, string, string) (string, error) {
		return "", pubErr
	}

	_, err := f.svc.Create(context.Background(), validParams())
	if !errors.Is(err, domain.ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
	if f.publisher.callCount.Load() != 1 {
		t.Errorf("publish must not be retried, got %d calls", f.publisher.callCount.Load())
	}
}

func TestCreate_UnclassifiedErrorKeepsStage(t *testing.T) {
	f := newFixture()
	cause := errors.New("connection reset by peer")
	f.publisher.fn = func(context.Context, string, string, string) (string, error) {
		return "", cause
	}

	_, err := f.svc.Create(context.Background(), validParams())
	var se *domain.StageError
	if !errors.As(err, &se) || se.Stage != domain.StagePublish {
		t.Fatalf("expected publish StageError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
}

func TestCreate_TokenOverlapsSearch(t *testing.T) {
	f := newFixture()
	release := make(chan struct{})
	f.search.fn = func(ctx context.Context, _ dommosaic.SearchRequest) ([]*stacgo.Item, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []*stacgo.Item{testItem("a", 0)}, nil
	}
	f.tokens.fn = func(context.Context, string) (string, error) {
		close(release)
		return "t", nil
	}

	if _, err := f.svc.Create(context.Background(), validParams()); err != nil {
		t.Fatalf("token stage should run while search is pending: %v", err)
	}
}

func TestGet(t *testing.T) {
	f := newFixture()

	rec, err := f.svc.Get(context.Background(), "abc.def")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID() != "abc.def" || rec.Links()[0].Href != "https://titiler.example.com/mosaicjson/abc.def/tilejson.json" {
		t.Errorf("unexpected record: %s %+v", rec.ID(), rec.Links())
	}

	if _, err := f.svc.Get(context.Background(), ""); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}
