package search

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/vaultsearch/internal/auth"
	"github.com/ziadkadry99/vaultsearch/internal/records"
)

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// RegisterRoutes mounts the search, record view and benchmark endpoints.
func RegisterRoutes(r chi.Router, svc *Service) {
	r.Post("/api/search", handleSearch(svc))
	r.Get("/api/records/{id}", handleView(svc))
	r.Get("/api/perf", handlePerf(svc))
}

func handleSearch(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if q := r.URL.Query().Get("q"); q != "" {
			req.Query = q
			if v := r.URL.Query().Get("limit"); v != "" {
				req.Limit, _ = strconv.Atoi(v)
			}
		} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if strings.TrimSpace(req.Query) == "" {
			http.Error(w, "query is required", http.StatusBadRequest)
			return
		}

		res, err := svc.Search(r.Context(), auth.ActorFromContext(r.Context()), req.Query, req.Limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleView(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}

		plain, err := svc.View(r.Context(), auth.ActorFromContext(r.Context()), id)
		if errors.Is(err, records.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, plain)
	}
}

func handlePerf(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := 100
		if v := r.URL.Query().Get("n"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 10000 {
				n = parsed
			}
		}
		perf, err := svc.Benchmark(r.Context(), n)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, perf)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
