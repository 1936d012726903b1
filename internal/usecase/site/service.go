package site

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/dashboard-api/internal/domain"
	dommeta "github.com/kailas-cloud/dashboard-api/internal/domain/metadata"
)

// Service serves site metadata.
type Service struct {
	reader Reader
}

// New creates a site service.
func New(reader Reader) *Service {
	return &Service{reader: reader}
}

// List returns every site with its self link under apiURL.
func (s *Service) List(ctx context.Context, apiURL string) ([]dommeta.Site, error) {
	sites, err := s.reader.Sites(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sites: %w", err)
	}
	out := make([]dommeta.Site, len(sites))
	for i, st := range sites {
		out[i] = st.WithSelfLink(apiURL)
	}
	return out, nil
}

// Get returns one site.
func (s *Service) Get(ctx context.Context, id, apiURL string) (dommeta.Site, error) {
	sites, err := s.reader.Sites(ctx)
	if err != nil {
		return dommeta.Site{}, fmt.Errorf("load sites: %w", err)
	}
	st, ok := Find(sites, id)
	if !ok {
		return dommeta.Site{}, NotFound(id)
	}
	return st.WithSelfLink(apiURL), nil
}

// Find returns the site with the given id.
func Find(sites []dommeta.Site, id string) (dommeta.Site, bool) {
	for _, st := range sites {
		if st.ID == id {
			return st, true
		}
	}
	return dommeta.Site{}, false
}

// NotFound is the error for an unknown site id.
func NotFound(id string) error {
	return domain.NewDetailError(domain.ErrNotFound, "Non-existant site identifier: "+id, nil)
}
