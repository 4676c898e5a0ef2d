// Package api exposes the record engine over HTTP. Routing is plain
// net/http with path switches; bodies are JSON except for the streaming
// query surface, which emits newline-delimited JSON.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"fieldcore/internal/engine"
	"fieldcore/pkg/domain"
)

// Handler serves the /api/v1 surface.
type Handler struct {
	svc *engine.Service
	log *slog.Logger
}

// New constructs the API handler. A nil logger falls back to slog.Default.
func New(svc *engine.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/v1/entities" || strings.HasPrefix(path, "/api/v1/entities/"):
		h.handleEntities(w, r, strings.TrimPrefix(path, "/api/v1/entities"))
	case path == "/api/v1/associations":
		h.handleAssociations(w, r)
	case strings.HasPrefix(path, "/api/v1/records/"):
		h.handleRecords(w, r, strings.TrimPrefix(path, "/api/v1/records/"))
	default:
		http.NotFound(w, r)
	}
}

type createEntityRequest struct {
	Kind       string         `json:"kind"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes"`
}

type patchEntityRequest struct {
	Attributes map[string]any `json:"attributes"`
}

// handleEntities covers the collection ("") and item ("/{id}[/linked]")
// routes.
func (h *Handler) handleEntities(w http.ResponseWriter, r *http.Request, remainder string) {
	if remainder == "" {
		switch r.Method {
		case http.MethodPost:
			h.handleEntityCreate(w, r)
		case http.MethodGet:
			h.handleEntityList(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}
	segments := strings.Split(strings.TrimPrefix(remainder, "/"), "/")
	id := segments[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(segments) == 2 && segments[1] == "linked" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleEntityLinked(w, r, id)
		return
	}
	if len(segments) != 1 {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		ent, err := h.svc.GetEntity(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entity": ent})
	case http.MethodPatch:
		var req patchEntityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		ent, err := h.svc.PatchEntityAttributes(r.Context(), id, req.Attributes)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entity": ent})
	case http.MethodDelete:
		if err := h.svc.DeleteEntity(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleEntityCreate(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	kind := domain.EntityKind(req.Kind)
	if !domain.KnownEntityKind(kind) {
		writeError(w, http.StatusBadRequest, "unknown entity kind "+req.Kind)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "entity name required")
		return
	}
	ent, err := h.svc.CreateEntity(r.Context(), kind, req.Name, req.Attributes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"entity": ent})
}

// handleEntityList lists by kind, or resolves a single entity when a name
// query parameter is present.
func (h *Handler) handleEntityList(w http.ResponseWriter, r *http.Request) {
	kind := domain.EntityKind(r.URL.Query().Get("kind"))
	if !domain.KnownEntityKind(kind) {
		writeError(w, http.StatusBadRequest, "kind query parameter required")
		return
	}
	if name := r.URL.Query().Get("name"); name != "" {
		ent, err := h.svc.GetEntityByName(r.Context(), kind, name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entity": ent})
		return
	}
	entities, err := h.svc.ListEntities(r.Context(), kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (h *Handler) handleEntityLinked(w http.ResponseWriter, r *http.Request, id string) {
	kind := domain.EntityKind(r.URL.Query().Get("kind"))
	if !domain.KnownEntityKind(kind) {
		writeError(w, http.StatusBadRequest, "kind query parameter required")
		return
	}
	entities, err := h.svc.ListLinked(r.Context(), id, kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

type associationRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

// handleAssociations links on PUT and unlinks on DELETE; both are
// idempotent.
func (h *Handler) handleAssociations(w http.ResponseWriter, r *http.Request) {
	var req associationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.A == "" || req.B == "" {
		writeError(w, http.StatusBadRequest, "both entity ids required")
		return
	}
	var err error
	switch r.Method {
	case http.MethodPut:
		err = h.svc.Link(r.Context(), req.A, req.B)
	case http.MethodDelete:
		err = h.svc.Unlink(r.Context(), req.A, req.B)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
