package model

import "encoding/json"

// ResultResponse is the envelope for a successful database operation. The
// result is the operation's JSON document, passed through unchanged.
type ResultResponse struct {
	Result json.RawMessage `json:"result"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Kind    string                 `json:"kind,omitempty"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}
