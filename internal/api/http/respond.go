package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/coursekit/coursekit-lms/internal/lms"
)

var validate = validator.New()

// respond writes the JSON envelope {success, ...payload}.
func respond(w http.ResponseWriter, status int, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["success"] = status < 400
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondOK(w http.ResponseWriter, payload map[string]any) {
	respond(w, http.StatusOK, payload)
}

func respondMessage(w http.ResponseWriter, status int, msg string) {
	respond(w, status, map[string]any{"message": msg})
}

// respondErr maps the domain error taxonomy onto statuses. Attempt-limit
// rejections carry the usage counters so clients can render "no attempts
// left" without another round-trip.
func respondErr(w http.ResponseWriter, err error) {
	var verr *lms.ValidationError
	var lerr *lms.AttemptLimitError
	var ferrs validator.ValidationErrors
	switch {
	case errors.As(err, &verr):
		respondMessage(w, http.StatusBadRequest, verr.Reason)
	case errors.As(err, &ferrs):
		respondMessage(w, http.StatusBadRequest, ferrs.Error())
	case errors.As(err, &lerr):
		respond(w, http.StatusConflict, map[string]any{
			"message":         "attempt limit exceeded",
			"attemptsUsed":    lerr.AttemptsUsed,
			"attemptsAllowed": lerr.AttemptsAllowed,
			"attemptsLeft":    0,
		})
	case errors.Is(err, lms.ErrNotFound):
		respondMessage(w, http.StatusNotFound, "not found")
	default:
		respondMessage(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &lms.ValidationError{Reason: "bad json: " + err.Error()}
	}
	return validate.Struct(dst)
}
