package http

import (
	"net/http"

	"github.com/nextlevelbuilder/taskd/internal/store"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.ListTemplates()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": templates})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var payload store.TemplatePayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	tpl, err := s.store.CreateTemplate(payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	tpl, err := s.store.GetTemplate(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var payload store.TemplatePayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	tpl, err := s.store.UpdateTemplate(id, payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteTemplate(id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleExportTemplates emits the raw key → entry mapping, compatible with a
// hand-maintained templates.json.
func (s *Server) handleExportTemplates(w http.ResponseWriter, r *http.Request) {
	mapping, err := s.store.ExportTemplates()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

func (s *Server) handleImportTemplates(w http.ResponseWriter, r *http.Request) {
	var mapping map[string]store.TemplateEntry
	if !decodeJSON(w, r, &mapping) {
		return
	}
	if mapping == nil {
		errorJSON(w, http.StatusBadRequest, "import payload must be a key to template mapping")
		return
	}
	inserted, updated, err := s.store.ImportTemplates(mapping)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"imported": map[string]int{"inserted": inserted, "updated": updated},
	})
}
