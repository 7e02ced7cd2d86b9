package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// DocumentTooLargeError reports a schema document over the configured cap.
type DocumentTooLargeError struct {
	Key   string
	Size  int64
	Limit int64
}

func (e *DocumentTooLargeError) Error() string {
	return fmt.Sprintf("document %q is %d bytes, limit is %d", e.Key, e.Size, e.Limit)
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// DocumentReader fetches a whole schema document.
type DocumentReader interface {
	ReadDocument(ctx context.Context, key string) ([]byte, error)
}

// DocumentWriter publishes a whole schema document.
type DocumentWriter interface {
	WriteDocument(ctx context.Context, key string, document []byte) (ObjectInfo, error)
}

// ContentTypeFor picks the content type of a schema document from its key.
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
