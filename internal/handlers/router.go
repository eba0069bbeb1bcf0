package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/settler-hq/settler-edge/internal/middleware"
)

// StatusProvider is the slice of the agent the control API exposes
type StatusProvider interface {
	Status() map[string]interface{}
}

// Router wraps the mux router for the localhost control API
type Router struct {
	*mux.Router
	agent   StatusProvider
	version string
}

// NewRouter creates the control API router. Everything under /api requires a
// Bearer token signed with the node key; /health stays open so local probes
// work before enrollment.
func NewRouter(agent StatusProvider, nodeKey, version string) *Router {
	r := &Router{
		Router:  mux.NewRouter(),
		agent:   agent,
		version: version,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// API routes (protected)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(nodeKey))
	api.HandleFunc("/status", r.getStatus).Methods("GET")

	return r
}

// healthCheck returns the health status of the agent
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": r.version,
	})
}

// getStatus returns the full agent status
func (r *Router) getStatus(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, r.agent.Status())
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
