package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/overlayworks/arcade/internal/events"
)

// QueueControl is the slice of the dispatch queue the HTTP surface needs.
type QueueControl interface {
	Status() events.StatusPayload
	Clear() int
}

// NewServer builds the HTTP server: the overlay WebSocket endpoint plus a
// small operational surface.
func NewServer(port string, cm *ConnectionManager, queue QueueControl) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := cm.UpgradeConnection(w, r); err != nil {
			log.Error().Err(err).Msg("websocket upgrade failed")
			http.Error(w, "upgrade failed", http.StatusBadRequest)
		}
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("write health response")
		}
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, cm.Stats())
	})

	mux.HandleFunc("/queue/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, queue.Status())
	})

	mux.HandleFunc("/queue/clear", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		cleared := queue.Clear()
		writeJSON(w, map[string]int{"cleared": cleared})
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: c.Handler(mux),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write json response")
	}
}
