// Package response writes the JSON envelope shared by every API route.
package response

import (
	"encoding/json"
	"net/http"
)

// Envelope is the body of every API response. Success is false whenever Error is set.
type Envelope struct {
	Success  bool        `json:"success"`
	Error    string      `json:"error,omitempty"`
	Messages []string    `json:"messages,omitempty"`
	Result   interface{} `json:"result,omitempty"`
}

// WriteJSON writes v with the given status code
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteResponse writes a successful envelope around result
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}, messages ...string) {
	WriteJSON(w, http.StatusOK, Envelope{
		Success:  true,
		Messages: messages,
		Result:   result,
	})
}

// WriteError writes a failed envelope
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	WriteJSON(w, e.StatusCode, Envelope{
		Success:  false,
		Error:    e.Message,
		Messages: e.Messages,
		Result:   e.Result,
	})
}
