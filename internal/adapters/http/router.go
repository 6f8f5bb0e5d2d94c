// Package httpadapter exposes the document pipeline over HTTP.
package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docintel/internal/core/domain"
	"github.com/kirillkom/docintel/internal/core/ports"
	"github.com/kirillkom/docintel/internal/export"
	"github.com/kirillkom/docintel/internal/observability/metrics"
)

const tenantHeader = "X-Tenant-Id"

type Router struct {
	ingest   ports.DocumentIngestor
	admin    *adminOps
	chat     ports.ChatService
	repo     ports.DocumentRepository
	pages    ports.PageRepository
	fields   ports.FieldRepository
	exporter *export.Service
	metrics  *metrics.HTTPServerMetrics
}

// adminOps groups the manual lifecycle operations behind one dependency.
type adminOps struct {
	svc ports.DocumentAdmin
}

func NewRouter(
	ingest ports.DocumentIngestor,
	admin ports.DocumentAdmin,
	chat ports.ChatService,
	repo ports.DocumentRepository,
	pages ports.PageRepository,
	fields ports.FieldRepository,
	exporter *export.Service,
	m *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		ingest:   ingest,
		admin:    &adminOps{svc: admin},
		chat:     chat,
		repo:     repo,
		pages:    pages,
		fields:   fields,
		exporter: exporter,
		metrics:  m,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)

	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("DELETE /v1/documents/{id}", rt.deleteDocument)
	mux.HandleFunc("GET /v1/documents/{id}/pages", rt.listPages)
	mux.HandleFunc("GET /v1/documents/{id}/fields", rt.listFields)
	mux.HandleFunc("GET /v1/documents/{id}/lines", rt.listLines)

	mux.HandleFunc("POST /v1/documents/{id}/reprocess", rt.reprocessDocument)
	mux.HandleFunc("POST /v1/documents/{id}/stop", rt.stopDocument)
	mux.HandleFunc("POST /v1/documents/{id}/rotation", rt.flagRotation)
	mux.HandleFunc("POST /v1/documents/{id}/rotation/confirm", rt.confirmRotation)

	mux.HandleFunc("PATCH /v1/fields/{id}", rt.correctField)

	mux.HandleFunc("POST /v1/chat", rt.askChat)
	mux.HandleFunc("GET /v1/export/xlsx", rt.exportRegister)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func tenantID(r *http.Request) string {
	if tenant := strings.TrimSpace(r.Header.Get(tenantHeader)); tenant != "" {
		return tenant
	}
	return "default"
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.ingest.Upload(r.Context(), tenantID(r), fileHeader.Filename, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := rt.repo.List(r.Context(), tenantID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.repo.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.repo.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) listPages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := rt.repo.GetByID(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	pages, err := rt.pages.ListByDocument(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if pages == nil {
		pages = []domain.Page{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (rt *Router) listFields(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := rt.repo.GetByID(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	fields, err := rt.fields.ListFields(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if fields == nil {
		fields = []domain.ExtractedField{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": fields})
}

func (rt *Router) listLines(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := rt.repo.GetByID(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	lines, err := rt.fields.ListLines(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if lines == nil {
		lines = []domain.DocumentLine{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (rt *Router) reprocessDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.admin.svc.Reprocess(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (rt *Router) stopDocument(w http.ResponseWriter, r *http.Request) {
	if err := rt.admin.svc.Stop(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

func (rt *Router) flagRotation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rotations map[int]int `json:"rotations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := rt.admin.svc.FlagRotation(r.Context(), r.PathValue("id"), req.Rotations); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "needs_rotation"})
}

func (rt *Router) confirmRotation(w http.ResponseWriter, r *http.Request) {
	if err := rt.admin.svc.ConfirmRotation(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// correctField applies a reviewer correction and records it in the field's
// audit trail.
func (rt *Router) correctField(w http.ResponseWriter, r *http.Request) {
	fieldID := r.PathValue("id")

	var req struct {
		Value   string `json:"value"`
		Actor   string `json:"actor"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Value) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "value is required"})
		return
	}
	if req.Actor == "" {
		req.Actor = "reviewer"
	}

	field, err := rt.fields.GetField(r.Context(), fieldID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := rt.fields.UpdateFieldValue(r.Context(), fieldID, req.Value); err != nil {
		writeError(w, err)
		return
	}
	event := domain.FieldEvent{
		FieldID:   fieldID,
		Actor:     req.Actor,
		EventType: domain.FieldEventUpdated,
		OldValue:  field.NormalizedValue,
		NewValue:  req.Value,
		Comment:   req.Comment,
	}
	if err := rt.fields.AppendEvent(r.Context(), event); err != nil {
		writeError(w, err)
		return
	}

	field.NormalizedValue = req.Value
	writeJSON(w, http.StatusOK, field)
}

func (rt *Router) askChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	start := time.Now()
	answer, err := rt.chat.Ask(r.Context(), tenantID(r), req.Question)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordChatObservation("api", len(answer.Sources), time.Since(start))
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) exportRegister(w http.ResponseWriter, r *http.Request) {
	var from, to *time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from must be YYYY-MM-DD"})
			return
		}
		from = &t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to must be YYYY-MM-DD"})
			return
		}
		to = &t
	}

	data, err := rt.exporter.ExportRegisterXLSX(r.Context(), tenantID(r), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordExport("api")
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="registro_documenti.xlsx"`)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
