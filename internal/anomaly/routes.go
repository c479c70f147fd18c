package anomaly

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/vaultsearch/internal/audit"
	"github.com/ziadkadry99/vaultsearch/internal/auth"
)

// RegisterRoutes mounts the anomaly endpoints on the given router.
func RegisterRoutes(r chi.Router, scorer *Scorer, classifier *Classifier, chain *audit.Chain) {
	r.Route("/api/anomaly", func(r chi.Router) {
		r.Get("/report", handleReport(classifier))
		r.Post("/{actor}/reset", handleReset(scorer, chain))
	})
}

func handleReport(classifier *Classifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := classifier.Report(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func handleReset(scorer *Scorer, chain *audit.Chain) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := chi.URLParam(r, "actor")
		block, err := scorer.Reset(r.Context(), chain, auth.ActorFromContext(r.Context()), target)
		if errors.Is(err, ErrUnknownActor) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, block)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
