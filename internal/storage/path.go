package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const objectScheme = "s3://"

var bucketPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// ObjectLocation is a bucket/key pair parsed from an s3:// source string.
type ObjectLocation struct {
	Bucket string
	Key    string
}

func (l ObjectLocation) String() string {
	return objectScheme + l.Bucket + "/" + l.Key
}

// IsObjectURI reports whether source names an object rather than a file.
func IsObjectURI(source string) bool {
	return strings.HasPrefix(strings.TrimSpace(source), objectScheme)
}

func ParseObjectURI(source string) (ObjectLocation, error) {
	source = strings.TrimSpace(source)
	if !strings.HasPrefix(source, objectScheme) {
		return ObjectLocation{}, fmt.Errorf("object uri %q must start with %s", source, objectScheme)
	}
	rest := strings.TrimPrefix(source, objectScheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || strings.TrimSpace(key) == "" {
		return ObjectLocation{}, fmt.Errorf("object uri %q has no key", source)
	}
	if !bucketPattern.MatchString(bucket) {
		return ObjectLocation{}, fmt.Errorf("invalid bucket name %q", bucket)
	}
	cleaned := path.Clean(strings.TrimPrefix(key, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ObjectLocation{}, fmt.Errorf("invalid object key %q", key)
	}
	return ObjectLocation{Bucket: bucket, Key: cleaned}, nil
}
