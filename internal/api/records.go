package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"fieldcore/internal/blob"
	"fieldcore/internal/engine"
	"fieldcore/pkg/domain"
)

const (
	defaultDownloadTTL = 15 * time.Minute

	// multipart limits: the record part is small JSON; files spill to disk
	// above this threshold.
	multipartMemoryLimit = 8 << 20
)

// handleRecords dispatches /api/v1/records/{kind}[/{id}[/{action}]].
func (h *Handler) handleRecords(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	kind := domain.RecordKind(segments[0])
	if !domain.KnownRecordKind(kind) {
		writeError(w, http.StatusNotFound, "unknown record kind "+segments[0])
		return
	}
	switch len(segments) {
	case 1:
		switch r.Method {
		case http.MethodPost:
			h.handleRecordInsert(w, r, kind)
		case http.MethodGet:
			h.handleRecordQuery(w, r, kind)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case 2:
		h.handleRecordItem(w, r, kind, segments[1])
	case 3:
		h.handleRecordAction(w, r, kind, segments[1], segments[2])
	default:
		http.NotFound(w, r)
	}
}

// handleRecordInsert accepts either a JSON record body or a multipart form
// with a "record" JSON field and an optional "file" part.
func (h *Handler) handleRecordInsert(w http.ResponseWriter, r *http.Request, kind domain.RecordKind) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var rec domain.Record
	var upload *engine.PayloadUpload
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		raw := r.FormValue("record")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "record form field required")
			return
		}
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			writeError(w, http.StatusBadRequest, "invalid record json")
			return
		}
		file, header, err := r.FormFile("file")
		if err == nil {
			defer func() { _ = file.Close() }()
			upload = &engine.PayloadUpload{
				Reader:      file,
				Name:        header.Filename,
				ContentType: header.Header.Get("Content-Type"),
			}
		} else if !errors.Is(err, http.ErrMissingFile) {
			writeError(w, http.StatusBadRequest, "invalid file part")
			return
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}
	rec.Kind = kind

	inserted, err := h.svc.InsertRecord(r.Context(), kind, rec, upload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"record": inserted})
}

// handleRecordQuery streams matches as newline-delimited JSON, one record
// per line, flushed as they are produced.
func (h *Handler) handleRecordQuery(w http.ResponseWriter, r *http.Request, kind domain.RecordKind) {
	cursor, err := h.svc.QueryRecords(r.Context(), kind, r.URL.Query())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer cursor.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)

	streamErr := cursor.ForEach(r.Context(), func(rec domain.Record) (bool, error) {
		if err := enc.Encode(rec.Representation()); err != nil {
			return false, err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true, nil
	})
	if streamErr != nil {
		// Headers are gone; all we can do is cut the stream and log.
		h.log.WarnContext(r.Context(), "record stream aborted", "kind", string(kind), "error", streamErr)
	}
}

type patchRecordRequest struct {
	Info map[string]any `json:"info"`
}

func (h *Handler) handleRecordItem(w http.ResponseWriter, r *http.Request, kind domain.RecordKind, id string) {
	switch r.Method {
	case http.MethodGet:
		rec, err := h.svc.GetRecord(r.Context(), kind, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"record": rec})
	case http.MethodPatch:
		var req patchRecordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		rec, err := h.svc.PatchRecordInfo(r.Context(), kind, id, req.Info)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"record": rec})
	case http.MethodDelete:
		if err := h.svc.DeleteRecord(r.Context(), kind, id); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) handleRecordAction(w http.ResponseWriter, r *http.Request, kind domain.RecordKind, id, action string) {
	switch action {
	case "download":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleDownload(w, r, kind, id)
	case "payload":
		switch r.Method {
		case http.MethodGet:
			h.handlePayloadGet(w, r, kind, id)
		case http.MethodPut:
			h.handlePayloadPut(w, r, kind, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, kind domain.RecordKind, id string) {
	ttl := defaultDownloadTTL
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = parsed
	}
	url, err := h.svc.IssueDownload(r.Context(), kind, id, ttl)
	if err != nil {
		if errors.Is(err, blob.ErrUnsupported) {
			writeError(w, http.StatusNotImplemented, "signed urls not supported by blob driver")
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url, "expires_in": ttl.String()})
}

func (h *Handler) handlePayloadGet(w http.ResponseWriter, r *http.Request, kind domain.RecordKind, id string) {
	info, body, err := h.svc.OpenPayload(r.Context(), kind, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer func() { _ = body.Close() }()
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.log.WarnContext(r.Context(), "payload stream aborted", "kind", string(kind), "id", id, "error", err)
	}
}

func (h *Handler) handlePayloadPut(w http.ResponseWriter, r *http.Request, kind domain.RecordKind, id string) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = id
	}
	rec, err := h.svc.AttachPayload(r.Context(), kind, id, engine.PayloadUpload{
		Reader:      r.Body,
		Name:        name,
		ContentType: r.Header.Get("Content-Type"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": rec})
}
