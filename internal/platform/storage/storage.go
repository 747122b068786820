package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

// Store abstracts the artifact tree under a single root. Keys are
// slash-separated and never absolute; the URI form prefixes the backend
// scheme so rows in the state store stay portable across backends.
//
// Layout:
//
//	uploads/{uuid}/{filename}
//	jobs/{jobId}/scene_graph.json
//	jobs/{jobId}/timeline.json
//	jobs/{jobId}/scenes/scene_{sceneId}.mp4
//	jobs/{jobId}/processed/...
//	jobs/{jobId}/assembly/{NN_stage}.mp4
//	jobs/{jobId}/output.mp4
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	List(ctx context.Context, prefix string) ([]string, error)

	// LocalPath resolves a key to a path ffmpeg can read directly. Remote
	// backends materialize the object into scratch space first.
	LocalPath(ctx context.Context, key string) (string, error)

	// URI returns the canonical reference persisted in job rows.
	URI(key string) string
}

// KeyFromURI strips the backend scheme prefix off a stored URI.
func KeyFromURI(uri string) string {
	for _, scheme := range []string{"file://", "gs://"} {
		if strings.HasPrefix(uri, scheme) {
			rest := strings.TrimPrefix(uri, scheme)
			// gs:// URIs carry the bucket name as the first segment.
			if scheme == "gs://" {
				if i := strings.IndexByte(rest, '/'); i >= 0 {
					return rest[i+1:]
				}
			}
			return rest
		}
	}
	return uri
}

type fsStore struct {
	log  *logger.Logger
	root string
}

func NewFS(log *logger.Logger, root string) (Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", abs, err)
	}
	return &fsStore{log: log.With("service", "FSStore"), root: abs}, nil
}

func (s *fsStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *fsStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create parent dirs for %s: %w", key, err)
	}
	tmp := p + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return "", fmt.Errorf("finalize %s: %w", key, err)
	}
	return s.URI(key), nil
}

func (s *fsStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

func (s *fsStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", key, err)
}

func (s *fsStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *fsStore) DeletePrefix(ctx context.Context, prefix string) error {
	p, err := s.path(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("delete prefix %s: %w", prefix, err)
	}
	return nil
}

func (s *fsStore) List(ctx context.Context, prefix string) ([]string, error) {
	base, err := s.path(prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(s.root, path)
		if rerr != nil {
			return rerr
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list prefix %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *fsStore) LocalPath(ctx context.Context, key string) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("stat %s: %w", key, err)
	}
	return p, nil
}

// URI carries the key, not the rooted path, so KeyFromURI hands back
// something path() accepts no matter which host stored it.
func (s *fsStore) URI(key string) string {
	return "file://" + filepath.ToSlash(filepath.Clean(filepath.FromSlash(key)))
}
