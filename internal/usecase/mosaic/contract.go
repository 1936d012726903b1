package mosaic

import (
	"context"

	stacgo "github.com/planetlabs/go-stac"

	dommosaic "github.com/kailas-cloud/dashboard-api/internal/domain/mosaic"
)

// Searcher queries a STAC catalog.
type Searcher interface {
	Search(ctx context.Context, req dommosaic.SearchRequest) ([]*stacgo.Item, error)
}

// Inspector reads raster metadata from an asset.
type Inspector interface {
	Inspect(ctx context.Context, href string) (dommosaic.Raster, error)
}

// DefinitionBuilder turns search results into a mosaic definition.
type DefinitionBuilder interface {
	Assemble(ctx context.Context, items []*stacgo.Item) (dommosaic.Definition, error)
}

// TokenBroker issues tile server access tokens.
type TokenBroker interface {
	CreateToken(ctx context.Context, username string) (string, error)
}

// Publisher uploads mosaic definitions to the tile server.
type Publisher interface {
	Upload(ctx context.Context, layername, username, token string, def dommosaic.Definition) (string, error)
}
