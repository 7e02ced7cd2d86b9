package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/querybridge/querybridge/internal/storage"
)

// DefaultMaxDocumentBytes applies when Config.MaxDocumentBytes is zero.
const DefaultMaxDocumentBytes int64 = 1 << 20

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
	MaxDocumentBytes int64
}

// bucketAPI is the slice of the minio client the document store needs.
type bucketAPI interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket, region string) error
}

// DocumentStore keeps schema documents in one bucket. Reads check the
// object size before downloading so an oversized or misnamed object never
// reaches the schema parser.
type DocumentStore struct {
	api      bucketAPI
	bucket   string
	prefix   string
	maxBytes int64
}

func New(ctx context.Context, cfg Config) (*DocumentStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	api, err := dialMinio(cfg)
	if err != nil {
		return nil, err
	}
	store, err := newDocumentStore(api, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newDocumentStore(api bucketAPI, cfg Config) (*DocumentStore, error) {
	if api == nil {
		return nil, fmt.Errorf("bucket client is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.MaxDocumentBytes < 0 {
		return nil, fmt.Errorf("max document bytes must be >= 0")
	}
	maxBytes := cfg.MaxDocumentBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxDocumentBytes
	}
	return &DocumentStore{api: api, bucket: bucket, prefix: keyPrefix(cfg.Prefix), maxBytes: maxBytes}, nil
}

// ReadDocument returns the full body stored at key.
func (s *DocumentStore) ReadDocument(ctx context.Context, key string) ([]byte, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	info, err := s.api.StatObject(ctx, s.bucket, objectKey)
	if err != nil {
		return nil, s.wrap("stat", objectKey, err)
	}
	if info.Size > s.maxBytes {
		return nil, &storage.DocumentTooLargeError{Key: objectKey, Size: info.Size, Limit: s.maxBytes}
	}

	body, err := s.api.GetObject(ctx, s.bucket, objectKey)
	if err != nil {
		return nil, s.wrap("get", objectKey, err)
	}
	defer func() { _ = body.Close() }()

	// The object can be replaced between stat and get.
	document, err := io.ReadAll(io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return nil, s.wrap("read", objectKey, mapMinioErr(err))
	}
	if int64(len(document)) > s.maxBytes {
		return nil, &storage.DocumentTooLargeError{Key: objectKey, Size: int64(len(document)), Limit: s.maxBytes}
	}
	return document, nil
}

// WriteDocument uploads document at key with a content type derived from
// the key's extension.
func (s *DocumentStore) WriteDocument(ctx context.Context, key string, document []byte) (storage.ObjectInfo, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	size := int64(len(document))
	if size > s.maxBytes {
		return storage.ObjectInfo{}, &storage.DocumentTooLargeError{Key: objectKey, Size: size, Limit: s.maxBytes}
	}
	info, err := s.api.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(document), size, storage.ContentTypeFor(objectKey))
	if err != nil {
		return storage.ObjectInfo{}, s.wrap("put", objectKey, err)
	}
	return info, nil
}

func (s *DocumentStore) wrap(action, objectKey string, err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("s3://%s/%s: %w", s.bucket, objectKey, storage.ErrObjectNotFound)
	}
	return fmt.Errorf("%s s3://%s/%s: %w", action, s.bucket, objectKey, err)
}

func (s *DocumentStore) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

// objectKey places key below the store prefix. Keys that climb out of the
// prefix are rejected.
func (s *DocumentStore) objectKey(key string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", fmt.Errorf("document key is required")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid document key: %q", key)
	}
	return path.Join(s.prefix, cleaned), nil
}

func keyPrefix(prefix string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(prefix), "/")
	if trimmed == "" {
		return ""
	}
	if cleaned := path.Clean(trimmed); cleaned != "." {
		return cleaned
	}
	return ""
}

// endpointHost accepts either a bare host:port or a URL. An https URL
// forces TLS regardless of useSSL.
func endpointHost(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint URL: %w", err)
	}
	switch {
	case parsed.Host == "":
		return "", false, fmt.Errorf("endpoint host is required")
	case parsed.Scheme == "https":
		return parsed.Host, true, nil
	case parsed.Scheme == "http":
		return parsed.Host, useSSL, nil
	default:
		return "", false, fmt.Errorf("unsupported endpoint scheme %q", parsed.Scheme)
	}
}

type minioBucket struct {
	client *minio.Client
}

func dialMinio(cfg Config) (*minioBucket, error) {
	host, secure, err := endpointHost(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &minioBucket{client: client}, nil
}

func (m *minioBucket) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	uploaded, err := m.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return storage.ObjectInfo{}, mapMinioErr(err)
	}
	return storage.ObjectInfo{Key: uploaded.Key, Size: uploaded.Size, ETag: uploaded.ETag, LastModified: uploaded.LastModified}, nil
}

// GetObject is lazy in minio; missing objects surface on the first read.
func (m *minioBucket) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	return object, nil
}

func (m *minioBucket) StatObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	stat, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, mapMinioErr(err)
	}
	return storage.ObjectInfo{Key: stat.Key, Size: stat.Size, ETag: stat.ETag, LastModified: stat.LastModified}, nil
}

func (m *minioBucket) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := m.client.BucketExists(ctx, bucket)
	return exists, mapMinioErr(err)
}

func (m *minioBucket) MakeBucket(ctx context.Context, bucket, region string) error {
	return mapMinioErr(m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}))
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return storage.ErrObjectNotFound
	}
	return err
}
