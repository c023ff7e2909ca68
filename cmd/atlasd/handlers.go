package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/atlasmirror/atlas"
)

func mountAPI(r chi.Router, svc *atlas.Service) {
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/api/sync/status", func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Status(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, st)
	})

	r.Post("/api/sync", func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Refresh(r.Context())
		switch {
		case errors.Is(err, atlas.ErrSyncRunning):
			writeError(w, 409, err)
		case err != nil:
			writeError(w, 502, err)
		default:
			writeJSON(w, 200, res)
		}
	})

	r.Get("/api/osint/status", func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.EnrichmentStats(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, stats)
	})

	r.Get("/api/osint/{techniqueID}", func(w http.ResponseWriter, r *http.Request) {
		enr, err := svc.Enrich(r.Context(), chi.URLParam(r, "techniqueID"))
		writeEnrichment(w, enr, err)
	})

	r.Post("/api/osint/{techniqueID}/refresh", func(w http.ResponseWriter, r *http.Request) {
		enr, err := svc.ForceRefreshEnrichment(r.Context(), chi.URLParam(r, "techniqueID"))
		writeEnrichment(w, enr, err)
	})

	r.Get("/api/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			writeJSON(w, 400, map[string]string{"error": "missing query parameter q"})
			return
		}
		hits, err := svc.Search(r.Context(), q, queryInt(r, "limit", 25))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]any{"query": q, "results": hits})
	})
}

func writeEnrichment(w http.ResponseWriter, enr *atlas.Enrichment, err error) {
	switch {
	case errors.Is(err, atlas.ErrTechniqueNotFound):
		writeError(w, 404, err)
	case err != nil:
		writeError(w, 502, err)
	default:
		writeJSON(w, 200, enr)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
