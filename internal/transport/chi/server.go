package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dashboard-api/internal/domain"
	dommosaic "github.com/kailas-cloud/dashboard-api/internal/domain/mosaic"
	"github.com/kailas-cloud/dashboard-api/internal/repository/respcache"
	datasetuc "github.com/kailas-cloud/dashboard-api/internal/usecase/dataset"
	healthuc "github.com/kailas-cloud/dashboard-api/internal/usecase/health"
	mosaicuc "github.com/kailas-cloud/dashboard-api/internal/usecase/mosaic"
	siteuc "github.com/kailas-cloud/dashboard-api/internal/usecase/site"
)

// Error codes returned in the "code" field of error bodies.
const (
	codeBadRequest     = "bad_request"
	codeUnauthorized   = "unauthorized"
	codeInvalidRequest = "invalid_request"
	codeNotFound       = "not_found"
	codeEmptySearch    = "empty_search_result"
	codeCatalogSearch  = "catalog_search_failed"
	codeAssembly       = "mosaic_assembly_failed"
	codeToken          = "token_acquisition_failed"
	codePublish        = "publish_failed"
	codeStageTimeout   = "stage_timeout"
	codeInternal       = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server serves the mosaic and metadata HTTP API.
type Server struct {
	mosaics       *mosaicuc.Service
	datasets      *datasetuc.Service
	sites         *siteuc.Service
	health        *healthuc.Service
	cache         *respcache.Cache
	prefix        string
	mosaicLimiter func(http.Handler) http.Handler
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server mounted under "/v1".
func NewServer(
	mosaics *mosaicuc.Service,
	datasets *datasetuc.Service,
	sites *siteuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		mosaics:  mosaics,
		datasets: datasets,
		sites:    sites,
		health:   health,
		prefix:   "/v1",
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, codeInvalidRequest),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrStageTimeout, http.StatusInternalServerError, codeStageTimeout),
		sentinelHandler(domain.ErrEmptySearchResult, http.StatusInternalServerError, codeEmptySearch),
		sentinelHandler(domain.ErrCatalogSearch, http.StatusInternalServerError, codeCatalogSearch),
		sentinelHandler(domain.ErrMosaicAssembly, http.StatusInternalServerError, codeAssembly),
		sentinelHandler(domain.ErrTokenAcquisition, http.StatusInternalServerError, codeToken),
		sentinelHandler(domain.ErrPublish, http.StatusInternalServerError, codePublish),
	}
	return s
}

// WithCache enables the metadata response cache. A nil cache disables it.
func (s *Server) WithCache(c *respcache.Cache) *Server {
	s.cache = c
	return s
}

// WithPrefix sets the path prefix of the versioned API.
func (s *Server) WithPrefix(prefix string) *Server {
	s.prefix = strings.TrimRight(prefix, "/")
	return s
}

// WithMosaicLimiter wraps POST /mosaics in mw (typically a rate limiter).
func (s *Server) WithMosaicLimiter(mw func(http.Handler) http.Handler) *Server {
	s.mosaicLimiter = mw
	return s
}

// Routes registers every endpoint on r. Service endpoints stay unprefixed.
func (s *Server) Routes(r chi.Router) {
	r.Get("/ping", s.Ping)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	api := func(r chi.Router) {
		r.Get("/mosaics/", s.GetMosaic)
		r.Get("/mosaics/{mosaic_id}", s.GetMosaic)
		if s.mosaicLimiter != nil {
			r.With(s.mosaicLimiter).Post("/mosaics", s.CreateMosaic)
		} else {
			r.Post("/mosaics", s.CreateMosaic)
		}

		r.Get("/datasets", s.ListDatasets)
		r.Get("/datasets/{location_id}", s.GetDatasets)
		r.Get("/sites", s.ListSites)
		r.Get("/sites/{site_id}", s.GetSite)
	}
	if s.prefix == "" {
		r.Group(api)
		return
	}
	r.Route(s.prefix, api)
}

// Ping handles GET /ping.
func (s *Server) Ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"ping": "pong!"})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// GetMosaic handles GET /mosaics/{mosaic_id}.
func (s *Server) GetMosaic(w http.ResponseWriter, r *http.Request) {
	rec, err := s.mosaics.Get(r.Context(), chi.URLParam(r, "mosaic_id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mosaicToJSON(rec))
}

// CreateMosaic handles POST /mosaics.
func (s *Server) CreateMosaic(w http.ResponseWriter, r *http.Request) {
	var req createMosaicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := s.mosaics.Create(r.Context(), req.params())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", s.apiURL(r)+"/mosaics/"+rec.ID())
	writeJSON(w, http.StatusCreated, mosaicToJSON(rec))
}

// ListDatasets handles GET /datasets.
func (s *Server) ListDatasets(w http.ResponseWriter, r *http.Request) {
	apiURL := s.apiURL(r)
	s.serveCached(w, r, respcache.Key("datasets", "_all", apiURL), func(r *http.Request) (any, error) {
		datasets, err := s.datasets.List(r.Context(), apiURL)
		if err != nil {
			return nil, err
		}
		return datasetsToJSON(datasets), nil
	})
}

// GetDatasets handles GET /datasets/{location_id}.
func (s *Server) GetDatasets(w http.ResponseWriter, r *http.Request) {
	apiURL := s.apiURL(r)
	id := chi.URLParam(r, "location_id")
	s.serveCached(w, r, respcache.Key("datasets", id, apiURL), func(r *http.Request) (any, error) {
		datasets, err := s.datasets.Get(r.Context(), id, apiURL)
		if err != nil {
			return nil, err
		}
		return datasetsToJSON(datasets), nil
	})
}

// ListSites handles GET /sites.
func (s *Server) ListSites(w http.ResponseWriter, r *http.Request) {
	apiURL := s.apiURL(r)
	s.serveCached(w, r, respcache.Key("sites", "_all", apiURL), func(r *http.Request) (any, error) {
		sites, err := s.sites.List(r.Context(), apiURL)
		if err != nil {
			return nil, err
		}
		return sitesToJSON(sites), nil
	})
}

// GetSite handles GET /sites/{site_id}.
func (s *Server) GetSite(w http.ResponseWriter, r *http.Request) {
	apiURL := s.apiURL(r)
	id := chi.URLParam(r, "site_id")
	s.serveCached(w, r, respcache.Key("sites", id, apiURL), func(r *http.Request) (any, error) {
		site, err := s.sites.Get(r.Context(), id, apiURL)
		if err != nil {
			return nil, err
		}
		return siteToJSON(site), nil
	})
}

// serveCached writes the JSON produced by load, reusing a cached copy when
// one exists. Errors are never cached.
func (s *Server) serveCached(
	w http.ResponseWriter, r *http.Request, key string, load func(r *http.Request) (any, error),
) {
	data, hit, err := s.cache.GetOrLoad(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		v, err := load(r.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if hit {
		w.Header().Set("X-Cache", "HIT")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// apiURL is the externally visible root of the versioned API, honoring a
// TLS-terminating proxy's X-Forwarded-Proto.
func (s *Server) apiURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		first, _, _ := strings.Cut(proto, ",")
		scheme = strings.TrimSpace(first)
	}
	return scheme + "://" + r.Host + s.prefix
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the error body. detail is prefixed with "Error: ".
func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorResponse{
		Code:   code,
		Detail: "Error: " + detail,
	})
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, domain.Detail(err))
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := s.logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Warn("domain error", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	detail := "internal error"
	var se *domain.StageError
	if errors.As(err, &se) {
		detail = "internal error in " + string(se.Stage) + " stage"
	}
	writeError(w, http.StatusInternalServerError, codeInternal, detail)
}

// mosaicToJSON renders a record with its external field names.
func mosaicToJSON(rec dommosaic.Record) mosaicResponse {
	links := rec.Links()
	out := mosaicResponse{ID: rec.ID(), Links: make([]linkJSON, len(links))}
	for i, l := range links {
		out.Links[i] = linkJSON{Href: l.Href, Rel: l.Rel, Type: l.Type, Title: l.Title}
	}
	return out
}
