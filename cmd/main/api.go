package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CTAG07/drosera/pkg/store"
	"github.com/CTAG07/drosera/pkg/templating"
)

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to marshal response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	st         *store.Store
	tm         *templating.Manager
	config     *Config
	configPath string
	logger     *slog.Logger
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(st *store.Store, tm *templating.Manager, config *Config, configPath string, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{st: st, tm: tm, config: config, configPath: configPath, logger: logger}
}

// RegisterRoutes sets up the routing for all /api endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/", t.handleTemplate)
	mux.HandleFunc("/api/templates/export", t.handleExport)
	mux.HandleFunc("/api/templates/import", t.handleImport)
	mux.HandleFunc("/api/render", t.handleRender)
	mux.HandleFunc("/api/render/preview", t.handlePreview)
	mux.HandleFunc("/api/formatters", t.handleFormatters)
	mux.HandleFunc("/api/config", t.handleConfig)
}

// handleList returns the metadata of all stored templates.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	infos, err := t.st.List(r.Context())
	if err != nil {
		t.logger.Error("Failed to list templates", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list templates")
		return
	}
	respondWithJSON(w, http.StatusOK, infos)
}

// handleTemplate serves GET/PUT/DELETE for a single named template under
// /api/templates/{name}.
func (t *TemplateAPI) handleTemplate(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	if name == "" || strings.Contains(name, "/") {
		respondWithError(w, http.StatusBadRequest, "Invalid template name")
		return
	}

	switch r.Method {
	case http.MethodGet:
		st, err := t.st.Get(r.Context(), name)
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template %q not found", name))
			return
		}
		if err != nil {
			t.logger.Error("Failed to get template", "template", name, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to get template")
			return
		}
		respondWithJSON(w, http.StatusOK, map[string]any{
			"id": st.Info.Id, "name": st.Info.Name, "source": st.Source,
			"created_at": st.Info.CreatedAt, "updated_at": st.Info.UpdatedAt,
		})
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Failed to read request body")
			return
		}
		info, err := t.st.Put(r.Context(), name, string(body))
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to store template: %v", err))
			return
		}
		if err := t.tm.Refresh(r.Context()); err != nil {
			t.logger.Error("Failed to refresh after template update", "template", name, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Stored, but failed to reload templates")
			return
		}
		t.logger.Info("Template stored via API", "template", name)
		respondWithJSON(w, http.StatusOK, info)
	case http.MethodDelete:
		err := t.st.Delete(r.Context(), name)
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template %q not found", name))
			return
		}
		if err != nil {
			t.logger.Error("Failed to delete template", "template", name, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to delete template")
			return
		}
		t.tm.Remove(name)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleExport streams the whole template set as JSON.
func (t *TemplateAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := t.st.Export(r.Context(), w); err != nil {
		t.logger.Error("Failed to export templates", "error", err)
	}
}

// handleImport accepts an exported template set and stores it.
func (t *TemplateAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := t.st.Import(r.Context(), r.Body); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Import failed: %v", err))
		return
	}
	if err := t.tm.Refresh(r.Context()); err != nil {
		t.logger.Error("Failed to refresh after import", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Imported, but failed to reload templates")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renderRequest struct {
	Template string          `json:"template"`
	Source   string          `json:"source"`
	Context  json.RawMessage `json:"context"`
}

func decodeRenderContext(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// handleRender renders a stored template against a JSON context.
func (t *TemplateAPI) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.Template == "" {
		respondWithError(w, http.StatusBadRequest, "Field 'template' is required")
		return
	}
	data, err := decodeRenderContext(req.Context)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid context: %v", err))
		return
	}

	out, err := t.tm.Render(req.Template, data)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Render failed: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, out)
}

// handlePreview renders posted template source without storing it.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	data, err := decodeRenderContext(req.Context)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid context: %v", err))
		return
	}

	var buf bytes.Buffer
	if err := t.tm.RenderString(&buf, req.Source, data); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Render failed: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// handleConfig serves the template engine limits: GET returns the current
// configuration, PUT applies and persists a new one.
func (t *TemplateAPI) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := t.tm.GetConfig()
		respondWithJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		var cfg templating.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
		t.tm.SetConfig(&cfg)
		t.config.Templates = &cfg
		if err := SaveConfig(t.configPath, t.config); err != nil {
			t.logger.Error("Failed to persist config", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Applied, but failed to persist config")
			return
		}
		t.logger.Info("Template config updated via API")
		respondWithJSON(w, http.StatusOK, cfg)
	default:
		w.Header().Set("Allow", "GET, PUT")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleFormatters lists the names of all registered formatters.
func (t *TemplateAPI) handleFormatters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	respondWithJSON(w, http.StatusOK, t.tm.Formatters().Names())
}
