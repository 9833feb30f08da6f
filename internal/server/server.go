package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

// maxRequestBody bounds a POST /rpc body.
const maxRequestBody = 8 << 20

// NewRouter mounts the RPC endpoint, the websocket hub and the health check.
func NewRouter(d *Dispatcher, hub *Hub, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/rpc", rpcHandler(d, logger))
	r.Get("/ws", hub.ServeHTTP)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return r
}

func rpcHandler(d *Dispatcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			http.Error(w, "read request", http.StatusBadRequest)
			return
		}
		var msg models.Message
		if err := json.Unmarshal(body, &msg); err != nil {
			writeJSON(w, logger, http.StatusBadRequest, models.Response{Error: "invalid envelope: " + err.Error()})
			return
		}
		writeJSON(w, logger, http.StatusOK, d.Dispatch(r.Context(), msg))
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write response", "error", err)
	}
}
