package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/Sternrassler/llm-guard/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// BlobStore is a durable store over remote object storage. Objects are named
// <prefix><key>.json; child namespaces extend the prefix with "<namespace>/".
//
// gocloud writers only commit on Close, so a write whose context is cancelled
// is discarded instead of leaving a partial object.
type BlobStore struct {
	bucket *blob.Bucket
	prefix string
	owner  bool
	logger zerolog.Logger
}

// NewBlobStore wraps an open bucket. The caller keeps ownership of bucket.
func NewBlobStore(bucket *blob.Bucket, prefix string, logger *zerolog.Logger) *BlobStore {
	l := log.With().Str("component", "blob-cache").Logger()
	if logger != nil {
		l = *logger
	}
	return &BlobStore{bucket: bucket, prefix: prefix, logger: l}
}

// OpenBlobStore opens the bucket described by cfg. The returned store owns the
// bucket and closes it on Close.
func OpenBlobStore(ctx context.Context, cfg config.CacheConfig, logger *zerolog.Logger) (*BlobStore, error) {
	bucketURL, err := BucketURL(cfg)
	if err != nil {
		return nil, err
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open blob bucket: %w", err)
	}

	s := NewBlobStore(bucket, "", logger)
	s.owner = true
	return s, nil
}

// BucketURL derives a gocloud bucket URL from the blob cache configuration.
//
// A connection string is a driver URL without the bucket part
// ("s3://?region=eu-west-1", "file:///var/lib/llm-guard", "mem://"); the
// container becomes the bucket (or a subdirectory for file://). An account URL
// is an S3-compatible endpoint such as MinIO.
func BucketURL(cfg config.CacheConfig) (string, error) {
	if cfg.Container == "" {
		return "", &config.ConfigError{Field: "cache.container", Reason: "required for blob cache"}
	}

	if cfg.ConnectionString != "" {
		u, err := url.Parse(cfg.ConnectionString)
		if err != nil || u.Scheme == "" {
			return "", &config.ConfigError{Field: "cache.connection_string", Reason: "not a bucket URL"}
		}
		switch u.Scheme {
		case "file":
			u.Path = path.Join(u.Path, cfg.Container)
			q := u.Query()
			q.Set("create_dir", "true")
			u.RawQuery = q.Encode()
		case "mem":
			return "mem://", nil
		default:
			u.Host = cfg.Container
		}
		return u.String(), nil
	}

	if cfg.AccountURL != "" {
		endpoint, err := url.Parse(cfg.AccountURL)
		if err != nil || endpoint.Host == "" {
			return "", &config.ConfigError{Field: "cache.account_url", Reason: "not an endpoint URL"}
		}
		q := url.Values{}
		q.Set("endpoint", endpoint.String())
		q.Set("use_path_style", "true")
		return "s3://" + cfg.Container + "?" + q.Encode(), nil
	}

	return "", &config.ConfigError{
		Field:  "cache.connection_string",
		Reason: "connection_string or account_url is required for blob cache",
	}
}

func (s *BlobStore) objectKey(key string) string {
	return s.prefix + key + entryExt
}

// Has reports whether an object exists for key.
func (s *BlobStore) Has(ctx context.Context, key string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, s.objectKey(key))
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return false, fmt.Errorf("blob exists: %w", err)
	}
	return ok, nil
}

// Get reads and decodes the object for key. Corrupt objects are deleted and
// reported as ErrCacheMiss.
func (s *BlobStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.bucket.ReadAll(ctx, s.objectKey(key))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			CacheMisses.WithLabelValues(backendBlob).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("blob read: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		CacheCorruptEntries.WithLabelValues(backendBlob).Inc()
		dropCorrupt(ctx, s, s.logger, key, err)
		CacheMisses.WithLabelValues(backendBlob).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(backendBlob).Inc()
	return entry, nil
}

// Set writes value under key. A nil value is a no-op.
func (s *BlobStore) Set(ctx context.Context, key string, value any, debug *Debug) error {
	if isNil(value) {
		return nil
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	data, err := encodeEntry(value, debug)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}

	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := s.bucket.WriteAll(ctx, s.objectKey(key), data, opts); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("blob write: %w", err)
	}
	return nil
}

// Delete removes the object for key.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, s.objectKey(key))
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("blob delete: %w", err)
	}
	return nil
}

// Clear deletes every object under this store's prefix.
func (s *BlobStore) Clear(ctx context.Context) error {
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			CacheErrors.WithLabelValues("clear").Inc()
			return fmt.Errorf("blob list: %w", err)
		}
		if obj.IsDir {
			continue
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			CacheErrors.WithLabelValues("clear").Inc()
			return fmt.Errorf("blob delete: %w", err)
		}
	}
}

// Child returns a store scoped under namespace.
func (s *BlobStore) Child(namespace string) Store {
	return &BlobStore{
		bucket: s.bucket,
		prefix: s.prefix + strings.Trim(namespace, "/") + "/",
		logger: s.logger,
	}
}

// Close closes the bucket when the store opened it.
func (s *BlobStore) Close() error {
	if !s.owner {
		return nil
	}
	return s.bucket.Close()
}
