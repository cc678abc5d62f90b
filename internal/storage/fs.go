package storage

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FSStore keeps blobs on the local filesystem, with a sidecar .meta file
// for content type and metadata. Dev/offline counterpart of a bucket.
type FSStore struct {
	base      string
	publicURL string
}

func NewFSStore(base, publicURL string) (*FSStore, error) {
	if base == "" {
		base = "./data"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{base: base, publicURL: strings.TrimSuffix(publicURL, "/")}, nil
}

func (s *FSStore) Put(key string, r io.Reader, opts PutOptions) (UploadResult, error) {
	if key == "" {
		return UploadResult{}, errors.New("empty key")
	}
	key = filepath.ToSlash(filepath.Clean(key))
	dst := filepath.Join(s.base, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return UploadResult{}, err
	}
	f, err := os.Create(dst)
	if err != nil {
		return UploadResult{}, err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return UploadResult{}, err
	}
	if opts.ContentType != "" || len(opts.Metadata) > 0 {
		meta, _ := json.Marshal(map[string]any{"contentType": opts.ContentType, "metadata": opts.Metadata})
		_ = os.WriteFile(dst+".meta", meta, 0o644)
	}
	return s.resultFor(key, dst), nil
}

func (s *FSStore) resultFor(key, dst string) UploadResult {
	res := UploadResult{StoragePath: key, GsURI: "gs://local/" + key}
	fileURL := url.URL{Scheme: "file", Path: dst}
	res.DownloadURL = fileURL.String()
	res.PublicURL = res.DownloadURL
	if s.publicURL != "" {
		res.PublicURL = s.publicURL + "/assets/" + key
		res.DownloadURL = res.PublicURL
	}
	return res
}

func (s *FSStore) Get(key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.base, filepath.FromSlash(filepath.Clean(key))))
}

func (s *FSStore) Delete(key string, ignoreNotFound bool) error {
	dst := filepath.Join(s.base, filepath.FromSlash(filepath.Clean(key)))
	err := os.Remove(dst)
	if errors.Is(err, fs.ErrNotExist) && ignoreNotFound {
		err = nil
	}
	_ = os.Remove(dst + ".meta")
	return err
}

func (s *FSStore) DeleteByPrefix(prefix string) error {
	root := filepath.Join(s.base, filepath.FromSlash(filepath.Clean(prefix)))
	if root == s.base || !strings.HasPrefix(root, s.base) {
		return errors.New("refusing to delete outside base")
	}
	err := os.RemoveAll(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
