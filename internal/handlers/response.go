package handlers

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// writeError writes an OpenAI-style error object.
func writeError(w http.ResponseWriter, code int, msg, typ string) {
	writeJSON(w, code, errorBody{Error: errorDetail{Message: msg, Type: typ}})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
