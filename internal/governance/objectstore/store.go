// Package objectstore defines the abstract key/value store the sync
// engine consumes for cloud blob storage, per the design's "Object store
// (consumed)" contract: put, get, list. No delete is required. Concrete
// implementations live in this package (in-memory, local-disk) and in the
// s3 subpackage (a real production body for the contract).
package objectstore

import "context"

// Listing is one entry returned by List: a key and, when known, its size.
type Listing struct {
	Key  string
	Size int64
}

// Store is the polymorphic object-store contract the sync engine is
// written against; implementers can be local-disk, S3-alike, or
// in-memory for tests.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	List(ctx context.Context, prefix string) ([]Listing, error)
}
