package blob

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/NVIDIA/mediaorch/cmn"
	"google.golang.org/api/iterator"
)

// GCSStore backs blob.Store with a Google Cloud Storage bucket, the third
// of the three cloud backends the teacher's go.mod already depends on.
type GCSStore struct {
	bucket *storage.BucketHandle
}

func NewGCSStore(ctx context.Context, bucketName string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, cmn.Wrap(err, "create gcs client")
	}
	return &GCSStore{bucket: client.Bucket(bucketName)}, nil
}

func (g *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	w := g.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", cmn.NewErrBlobUnreachable("gcs put failed", err)
	}
	if err := w.Close(); err != nil {
		return "", cmn.NewErrBlobUnreachable("gcs put failed", err)
	}
	return "gs://" + w.Attrs().Bucket + "/" + key, nil
}

func (g *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, cmn.NewErrNotFound("gcs object not found")
		}
		return nil, cmn.NewErrBlobUnreachable("gcs get failed", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.bucket.Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, cmn.NewErrBlobUnreachable("gcs head failed", err)
}

func (g *GCSStore) DeletePrefix(ctx context.Context, prefix string, _ int) (int, error) {
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var removed int
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return removed, cmn.NewErrBlobUnreachable("gcs list failed", err)
		}
		if err := g.bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			continue
		}
		removed++
	}
	return removed, nil
}

var _ Store = (*GCSStore)(nil)
