package storage

import "io"

// UploadResult carries every address shape callers persist on upload docs.
type UploadResult struct {
	StoragePath string `json:"storagePath"`
	DownloadURL string `json:"downloadUrl"`
	GsURI       string `json:"gsUri"`
	PublicURL   string `json:"publicUrl"`
}

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// BlobStore is the object-storage collaborator. Deletes are best-effort
// cleanup: callers log failures and proceed.
type BlobStore interface {
	Put(key string, r io.Reader, opts PutOptions) (UploadResult, error)
	Get(key string) (io.ReadCloser, error)
	Delete(key string, ignoreNotFound bool) error
	DeleteByPrefix(prefix string) error
}
