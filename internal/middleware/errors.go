package middleware

import (
	"encoding/json"
	"net/http"
)

// WriteJSONError writes the API error body {"error": message}.
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all auth failures to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusUnauthorized, "Unauthorized")
}
