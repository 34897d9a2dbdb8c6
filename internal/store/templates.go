package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const templateColumns = "id, key, name, script_body, created_at, updated_at"

func scanTemplate(row interface{ Scan(...any) error }) (*Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.Key, &t.Name, &t.ScriptBody, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTemplates returns all templates ordered by id.
func (s *Store) ListTemplates() ([]*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query("SELECT " + templateColumns + " FROM templates ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	templates := []*Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// GetTemplate returns a template by id, or ErrNotFound.
func (s *Store) GetTemplate(id int64) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getTemplateLocked(id)
}

func (s *Store) getTemplateLocked(id int64) (*Template, error) {
	t, err := scanTemplate(s.db.QueryRow("SELECT "+templateColumns+" FROM templates WHERE id=?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// CreateTemplate inserts a template. A missing key is generated from the
// name, suffixed until unique.
func (s *Store) CreateTemplate(p TemplatePayload) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.TrimSpace(deref(p.Name))
	body := strings.TrimSpace(deref(p.ScriptBody))
	key := strings.TrimSpace(deref(p.Key))
	if name == "" {
		return nil, validationf("template name is required")
	}
	if body == "" {
		return nil, validationf("template body must not be empty")
	}
	if key == "" {
		base := strings.ReplaceAll(strings.ToLower(name), " ", "_")
		key = base
		for idx := 1; ; idx++ {
			var count int
			if err := s.db.QueryRow("SELECT COUNT(1) FROM templates WHERE key=?", key).Scan(&count); err != nil {
				return nil, err
			}
			if count == 0 {
				break
			}
			key = fmt.Sprintf("%s_%d", base, idx+1)
		}
	}
	now := FormatTime(s.now())
	res, err := s.db.Exec(
		"INSERT INTO templates (key, name, script_body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		key, name, body, now, now,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, validationf("a template with key %q already exists", key)
		}
		return nil, fmt.Errorf("insert template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.getTemplateLocked(id)
}

// UpdateTemplate merges the payload over the existing template.
func (s *Store) UpdateTemplate(id int64, p TemplatePayload) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getTemplateLocked(id)
	if err != nil {
		return nil, err
	}
	name := existing.Name
	body := existing.ScriptBody
	key := existing.Key
	if p.Name != nil {
		name = strings.TrimSpace(*p.Name)
	}
	if p.ScriptBody != nil {
		body = strings.TrimSpace(*p.ScriptBody)
	}
	if p.Key != nil {
		key = strings.TrimSpace(*p.Key)
	}
	if name == "" {
		return nil, validationf("template name is required")
	}
	if body == "" {
		return nil, validationf("template body must not be empty")
	}
	_, err = s.db.Exec(
		"UPDATE templates SET key=?, name=?, script_body=?, updated_at=? WHERE id=?",
		key, name, body, FormatTime(s.now()), id,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, validationf("a template with key %q already exists", key)
		}
		return nil, fmt.Errorf("update template: %w", err)
	}
	return s.getTemplateLocked(id)
}

// DeleteTemplate removes a template by id.
func (s *Store) DeleteTemplate(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM templates WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ImportTemplates upserts a key → entry mapping, skipping entries with an
// empty body. Returns inserted and updated counts.
func (s *Store) ImportTemplates(mapping map[string]TemplateEntry) (inserted, updated int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := FormatTime(s.now())
	for key, entry := range mapping {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			name = key
		}
		body := strings.TrimSpace(entry.ScriptBody)
		if body == "" {
			continue
		}
		var existingID int64
		scanErr := s.db.QueryRow("SELECT id FROM templates WHERE key=?", key).Scan(&existingID)
		switch {
		case scanErr == nil:
			if _, err = s.db.Exec(
				"UPDATE templates SET name=?, script_body=?, updated_at=? WHERE key=?",
				name, body, now, key,
			); err != nil {
				return inserted, updated, fmt.Errorf("import update %q: %w", key, err)
			}
			updated++
		case errors.Is(scanErr, sql.ErrNoRows):
			if _, err = s.db.Exec(
				"INSERT INTO templates (key, name, script_body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
				key, name, body, now, now,
			); err != nil {
				return inserted, updated, fmt.Errorf("import insert %q: %w", key, err)
			}
			inserted++
		default:
			return inserted, updated, scanErr
		}
	}
	return inserted, updated, nil
}

// ExportTemplates returns the key → entry mapping of all templates.
func (s *Store) ExportTemplates() (map[string]TemplateEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query("SELECT key, name, script_body FROM templates ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]TemplateEntry{}
	for rows.Next() {
		var key string
		var entry TemplateEntry
		if err := rows.Scan(&key, &entry.Name, &entry.ScriptBody); err != nil {
			return nil, err
		}
		out[key] = entry
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
