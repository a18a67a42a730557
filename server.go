package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

type chatRequest struct {
	Message string        `json:"message"`
	History []ChatMessage `json:"history"`
}

// NewRouter wires the chat endpoint and health check. Authentication and
// session handling belong to the surrounding deployment, not this service.
func NewRouter(pipeline *Pipeline) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/chat", handleChat(pipeline)).Methods(http.MethodPost)
	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	return r
}

func handleChat(pipeline *Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ChatResponse{
				Success: false,
				Summary: "Invalid request body.",
				Error:   err.Error(),
			})
			return
		}
		if req.Message == "" {
			writeJSON(w, http.StatusBadRequest, ChatResponse{
				Success: false,
				Summary: "A message is required.",
				Error:   "empty message",
			})
			return
		}

		resp := pipeline.AnswerQuestion(r.Context(), req.Message, req.History)
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response error: %v", err)
	}
}

func StartServer(cfg Config, pipeline *Pipeline) error {
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      NewRouter(pipeline),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // two model calls per request
	}
	log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
	return srv.ListenAndServe()
}
