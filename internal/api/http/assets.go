package http

import (
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/coursekit/coursekit-lms/internal/storage"
)

// MountAssets wires the upload/download surface. Uploads are keyed under
// the owning quiz so a quiz delete can sweep them by prefix.
func MountAssets(r chi.Router, bs storage.BlobStore) {
	// POST /assets/quizzes/{quizID}
	r.Post("/quizzes/{quizID}", func(w http.ResponseWriter, r *http.Request) {
		quizID := chi.URLParam(r, "quizID")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			respondMessage(w, http.StatusBadRequest, "file required")
			return
		}
		defer f.Close()

		name := path.Base(hdr.Filename)
		if name == "." || name == "/" || name == "" {
			name = "upload.bin"
		}
		key := "quizzes/" + quizID + "/" + uuid.NewString()[:8] + "-" + name
		res, err := bs.Put(key, f, storage.PutOptions{
			ContentType: hdr.Header.Get("Content-Type"),
			Metadata:    map[string]string{"quizId": quizID},
		})
		if err != nil {
			respondMessage(w, http.StatusInternalServerError, "store error: "+err.Error())
			return
		}
		respondOK(w, map[string]any{"upload": res})
	})

	// GET /assets/*  -> streams the blob at whatever follows /assets/
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		rc, err := bs.Get(key)
		if err != nil {
			respondMessage(w, http.StatusNotFound, "not found")
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.Copy(w, rc)
	})
}
