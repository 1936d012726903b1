package site

import (
	"context"

	dommeta "github.com/kailas-cloud/dashboard-api/internal/domain/metadata"
)

// Reader loads the site metadata document.
type Reader interface {
	Sites(ctx context.Context) ([]dommeta.Site, error)
}
