package keyset

import (
	"context"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// DefaultObjectName is the object key used by [ObjectStore].
const DefaultObjectName = "keyset/current.json"

// ObjectClient is the subset of the object storage client used by
// [ObjectStore]. It is satisfied by *minio.Client from pkg/clients/minio,
// which reports a missing object with [sserr.CodeNotFound].
type ObjectClient interface {
	PutObject(ctx context.Context, bucket, name string, data []byte, contentType string) error
	GetObject(ctx context.Context, bucket, name string) ([]byte, error)
}

// ObjectStore keeps the snapshot in an object storage bucket. Unlike
// [RedisStore] the object does not expire, which makes it useful as a
// warm-start copy: a stale object is simply ignored by the cache.
type ObjectStore struct {
	client ObjectClient
	bucket string
	name   string
}

// NewObjectStore returns a store writing bucket/name. An empty name
// selects [DefaultObjectName].
func NewObjectStore(client ObjectClient, bucket, name string) *ObjectStore {
	if name == "" {
		name = DefaultObjectName
	}
	return &ObjectStore{client: client, bucket: bucket, name: name}
}

// Load reads and decodes the snapshot object.
func (s *ObjectStore) Load(ctx context.Context) (Snapshot, error) {
	data, err := s.client.GetObject(ctx, s.bucket, s.name)
	if err != nil {
		if sserr.IsNotFound(err) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, err
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return Snapshot{}, sserr.Wrap(err, sserr.CodeInternalDatabase, "keyset: corrupt snapshot object")
	}
	return snap, nil
}

// Save encodes and uploads the snapshot.
func (s *ObjectStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "keyset: failed to encode snapshot")
	}
	return s.client.PutObject(ctx, s.bucket, s.name, data, "application/json")
}
