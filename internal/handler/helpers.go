package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeResult wraps an operation's JSON result in the result envelope.
func writeResult(w http.ResponseWriter, result string) {
	writeJSON(w, http.StatusOK, model.ResultResponse{Result: json.RawMessage(result)})
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// writeDBError writes err with the status its kind maps to.
func writeDBError(w http.ResponseWriter, err error) {
	kind := dberr.KindOf(err)
	code := statusFor(kind)
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Kind:    kind.String(),
			Message: dberr.Message(err),
		},
	})
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(kind dberr.Kind) int {
	switch kind {
	case dberr.KindInvalidArgument:
		return http.StatusBadRequest
	case dberr.KindNotFound:
		return http.StatusNotFound
	case dberr.KindAlreadyExists:
		return http.StatusConflict
	case dberr.KindPermissionDenied:
		return http.StatusForbidden
	case dberr.KindFailedPrecondition:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure. An empty body leaves v as is.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
