package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/vaultsearch/internal/auth"
	"github.com/ziadkadry99/vaultsearch/internal/records"
)

// maxUploadBytes caps CSV uploads.
const maxUploadBytes = 32 << 20

// RegisterRoutes mounts ingestion, job, re-index and delete endpoints.
func RegisterRoutes(r chi.Router, ingester *Ingester, queue *Queue, reindexer *Reindexer) {
	r.Post("/api/ingest", handleIngest(ingester))
	r.Post("/api/ingest/csv", handleUpload(queue))
	r.Get("/api/ingest/jobs/{id}", handleJob(queue))
	r.Post("/api/reindex", handleReindex(reindexer))
	r.Delete("/api/records/{id}", handleDelete(ingester))
}

type ingestRequest struct {
	Rows []Row `json:"rows"`
}

func handleIngest(ingester *Ingester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if len(req.Rows) == 0 {
			http.Error(w, "rows are required", http.StatusBadRequest)
			return
		}

		res, err := ingester.Ingest(r.Context(), auth.ActorFromContext(r.Context()), req.Rows, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type uploadResponse struct {
	Job         *Job        `json:"job"`
	ParseErrors []*RowError `json:"parse_errors,omitempty"`
}

func handleUpload(queue *Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

		var (
			body   io.Reader = r.Body
			source           = "upload"
		)
		if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
			file, hdr, err := r.FormFile("file")
			if err != nil {
				http.Error(w, "missing file field", http.StatusBadRequest)
				return
			}
			defer file.Close()
			body, source = file, hdr.Filename
		} else if name := r.URL.Query().Get("name"); name != "" {
			source = name
		}

		rows, parseErrs, err := ParseCSV(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		job, err := queue.Enqueue(r.Context(), Submission{
			Actor:    auth.ActorFromContext(r.Context()),
			Source:   source,
			Rows:     rows,
			Rejected: parseErrs,
		})
		switch {
		case errors.Is(err, ErrQueueFull), errors.Is(err, ErrQueueClosed):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, uploadResponse{Job: job, ParseErrors: parseErrs})
	}
}

func handleJob(queue *Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := queue.Job(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, ErrJobNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleReindex(reindexer *Reindexer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := reindexer.Reindex(r.Context(), auth.ActorFromContext(r.Context()), nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleDelete(ingester *Ingester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}

		block, err := ingester.Delete(r.Context(), auth.ActorFromContext(r.Context()), id)
		if errors.Is(err, records.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
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
