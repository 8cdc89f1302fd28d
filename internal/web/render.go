package web

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/logging"
	"github.com/hpungsan/cardvault/internal/ops"
)

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderError writes a {"error": {...}} body with the error's status.
// Internal error details are not exposed.
func renderError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger = logging.OrDiscard(logger)
	vErr, ok := errors.As(err)
	if !ok {
		vErr = errors.NewInternal(err)
	}

	message := vErr.Message
	if vErr.Code == errors.ErrInternal {
		logger.Error("request failed", "error", err)
		message = "an internal error occurred"
	}

	errorObj := map[string]any{
		"code":    string(vErr.Code),
		"message": message,
		"status":  vErr.Status,
	}
	if vErr.Stage != "" {
		errorObj["stage"] = string(vErr.Stage)
	}
	if vErr.Code != errors.ErrInternal && vErr.Details != nil {
		errorObj["details"] = vErr.Details
	}

	renderJSON(w, vErr.Status, map[string]any{"error": errorObj})
}

// readBody reads the whole request body up to ops.MaxUploadBytes.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := http.MaxBytesReader(w, r.Body, ops.MaxUploadBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return nil, errors.NewInvalidRequest("failed to read request body")
	}
	return data, nil
}

// decodeBody unmarshals a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
