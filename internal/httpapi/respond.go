package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/roach88/grimoire/internal/app"
)

// errorBody is every error response. Report carries whatever the operation
// completed before failing.
type errorBody struct {
	Error  string `json:"error"`
	Report any    `json:"report,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		response, _ = json.Marshal(errorBody{Error: err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorBody{Error: message})
}

// statusFor maps an operation error to an HTTP status.
func statusFor(err error) int {
	switch app.Classify(err) {
	case app.ClassNone:
		return http.StatusOK
	case app.ClassBadRequest:
		return http.StatusBadRequest
	case app.ClassNotFound:
		return http.StatusNotFound
	case app.ClassUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondResult writes report, or the error with report attached when the
// operation failed part way.
func respondResult[T any](w http.ResponseWriter, report *T, err error) {
	if err != nil {
		body := errorBody{Error: err.Error()}
		if report != nil {
			body.Report = report
		}
		respondJSON(w, statusFor(err), body)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
