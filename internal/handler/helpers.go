package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lumora-app/lumora/internal/credits"
)

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeCreditError maps a credit-core error to an HTTP status and its
// stable user-safe message. Unrecognized errors become a 500 with the
// generic fallback; details stay server-side.
func writeCreditError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var insufficient *credits.InsufficientCreditsError
	var validation *credits.ValidationError
	switch {
	case errors.As(err, &insufficient):
		status = http.StatusPaymentRequired
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.Is(err, credits.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, credits.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": credits.UserMessage(err)})
}
