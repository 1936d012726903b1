package health

import "context"

// CachePinger checks response cache availability.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// MetadataChecker checks that the metadata documents can be loaded.
type MetadataChecker interface {
	Ping(ctx context.Context) error
}
