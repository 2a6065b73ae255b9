package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/hacker-cb/docklite/internal/errdefs"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// respondError maps classified engine errors onto HTTP statuses. Unclassified
// errors become a 500 with a generic message so internals never leak.
func (r *Router) respondError(w http.ResponseWriter, req *http.Request, err error) {
	kind := errdefs.GetKind(err)

	status := http.StatusInternalServerError
	switch kind {
	case errdefs.KindValidation:
		status = http.StatusUnprocessableEntity
	case errdefs.KindConflict, errdefs.KindAlreadyInProgress, errdefs.KindInvalidTransition:
		status = http.StatusConflict
	case errdefs.KindForbidden:
		status = http.StatusForbidden
	case errdefs.KindNotFound:
		status = http.StatusNotFound
	case errdefs.KindUnavailable, errdefs.KindRoutingSync:
		status = http.StatusServiceUnavailable
	case errdefs.KindTimeout:
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError {
		r.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		writeError(w, status, "internal server error")
		return
	}

	body := map[string]any{
		"error": err.Error(),
		"code":  kind.String(),
	}
	if fields := errdefs.FieldsOf(err); len(fields) > 0 {
		body["fields"] = fields
	}
	writeJSON(w, status, body)
}
