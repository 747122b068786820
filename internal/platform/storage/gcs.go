package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

type gcsStore struct {
	log     *logger.Logger
	client  *gcs.Client
	bucket  string
	scratch string
}

// NewGCS builds a Store backed by a single GCS bucket. Scratch space is
// used by LocalPath to hand ffmpeg a readable file.
func NewGCS(ctx context.Context, log *logger.Logger, bucket string, opts ...option.ClientOption) (Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("missing GCS bucket name")
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	scratch, err := os.MkdirTemp("", "reelsmith-gcs-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &gcsStore{
		log:     log.With("service", "GCSStore", "bucket", bucket),
		client:  client,
		bucket:  bucket,
		scratch: scratch,
	}, nil
}

func (s *gcsStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload %s: %w", key, err)
	}
	return s.URI(key), nil
}

func (s *gcsStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return r, nil
}

func (s *gcsStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if err == gcs.ErrObjectNotExist {
		return false, nil
	}
	return false, fmt.Errorf("attrs %s: %w", key, err)
}

func (s *gcsStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && err != gcs.ErrObjectNotExist {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *gcsStore) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *gcsStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list prefix %s: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (s *gcsStore) LocalPath(ctx context.Context, key string) (string, error) {
	local := filepath.Join(s.scratch, filepath.FromSlash(key))
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", fmt.Errorf("create scratch dirs for %s: %w", key, err)
	}
	r, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer r.Close()
	f, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("create scratch file for %s: %w", key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(local)
		return "", fmt.Errorf("download %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close scratch file for %s: %w", key, err)
	}
	return local, nil
}

func (s *gcsStore) URI(key string) string {
	return "gs://" + s.bucket + "/" + strings.TrimPrefix(key, "/")
}
