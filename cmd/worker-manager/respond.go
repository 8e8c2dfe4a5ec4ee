// cmd/worker-manager/respond.go
package main

import (
	"encoding/json"
	"net/http"
)

func writeStatus(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
