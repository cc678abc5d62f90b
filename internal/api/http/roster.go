package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coursekit/coursekit-lms/internal/roster"
)

type enrollReq struct {
	StudentID string `json:"studentId" validate:"required"`
}

// POST /classes/{classID}/enroll
func EnrollHandler(svc *roster.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enrollReq
		if err := decodeJSON(r, &req); err != nil {
			respondErr(w, err)
			return
		}
		if err := svc.Enroll(r.Context(), chi.URLParam(r, "classID"), req.StudentID); err != nil {
			respondErr(w, err)
			return
		}
		respondOK(w, map[string]any{"message": "enrolled"})
	}
}

// DELETE /classes/{classID}/enroll/{studentID}
func UnenrollHandler(svc *roster.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Unenroll(r.Context(), chi.URLParam(r, "classID"), chi.URLParam(r, "studentID")); err != nil {
			respondErr(w, err)
			return
		}
		respondOK(w, map[string]any{"message": "unenrolled"})
	}
}

// GET /classes/{classID}/roster
func RosterHandler(svc *roster.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		members, err := svc.List(r.Context(), chi.URLParam(r, "classID"))
		if err != nil {
			respondErr(w, err)
			return
		}
		respondOK(w, map[string]any{"roster": members})
	}
}

// POST /classes/{classID}/roster/import — multipart CSV with id,name,email.
func ImportRosterHandler(svc *roster.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("file")
		if err != nil {
			respondMessage(w, http.StatusBadRequest, "file required")
			return
		}
		defer f.Close()
		res, err := svc.ImportCSV(r.Context(), chi.URLParam(r, "classID"), f)
		if err != nil {
			respondErr(w, err)
			return
		}
		respondOK(w, map[string]any{"enrolled": res.Enrolled, "upserted": res.Upserted})
	}
}
