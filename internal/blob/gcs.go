package blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSPublicBaseURL is the public object endpoint.
const GCSPublicBaseURL = "https://storage.googleapis.com"

// GCS stores documents in a Cloud Storage bucket.
type GCS struct {
	Client *storage.Client
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// NewGCS creates a GCS store using application default credentials.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCS{Client: client, Bucket: strings.TrimSpace(bucket), Prefix: prefix}, nil
}

// Put uploads data and returns its public URL.
func (g *GCS) Put(ctx context.Context, name string, data []byte) (string, error) {
	if g.Client == nil {
		return "", errors.New("gcs: nil storage client")
	}
	if g.Bucket == "" {
		return "", errors.New("gcs: bucket is empty")
	}
	obj := objectName(g.Prefix, name)

	w := g.Client.Bucket(g.Bucket).Object(obj).NewWriter(ctx)
	w.ContentType = ContentTypePDF
	w.CacheControl = "no-cache"
	w.Metadata = map[string]string{"source": "labelflow"}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write %s: %w", obj, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close %s: %w", obj, err)
	}
	return GCSPublicURL(g.Bucket, obj), nil
}

// Close releases the client.
func (g *GCS) Close() error {
	if g.Client == nil {
		return nil
	}
	return g.Client.Close()
}

// GCSPublicURL returns https://storage.googleapis.com/<bucket>/<object>
// with each path segment escaped.
func GCSPublicURL(bucket, object string) string {
	segs := strings.Split(object, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return GCSPublicBaseURL + "/" + bucket + "/" + strings.Join(segs, "/")
}

func objectName(prefix, name string) string {
	name = strings.TrimLeft(name, "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
