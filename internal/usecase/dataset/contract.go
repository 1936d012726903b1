package dataset

import (
	"context"

	dommeta "github.com/kailas-cloud/dashboard-api/internal/domain/metadata"
)

// MetadataReader loads the dataset and site metadata documents.
type MetadataReader interface {
	Datasets(ctx context.Context) (dommeta.Index, error)
	Sites(ctx context.Context) ([]dommeta.Site, error)
}
