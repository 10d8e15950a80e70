// Package store persists named template sources in SQLite. Every template
// is compile-validated before it is written, so a Manager refreshing from
// the store never sees a source that fails to compile.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CTAG07/drosera/pkg/templating"
)

// ErrNotFound is returned when a named template does not exist.
var ErrNotFound = errors.New("template not found")

// SetupSchema initializes the template table in the provided database.
// It is idempotent and safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {
	const schemaTemplates = `
CREATE TABLE IF NOT EXISTS templates (
    template_id TEXT PRIMARY KEY,
    template_name TEXT NOT NULL UNIQUE,
    source TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`
	if _, err := db.Exec(schemaTemplates); err != nil {
		return fmt.Errorf("could not create templates schema: %w", err)
	}
	return nil
}

// TemplateInfo holds the metadata of a stored template.
type TemplateInfo struct {
	Id        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExportedTemplate is the serializable representation of a stored template,
// used for JSON-based import and export.
type ExportedTemplate struct {
	Id     string `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source"`
}

// Store provides access to the persisted template set. It holds the
// database connection and prepared SQL statements; all methods are safe
// for concurrent use.
type Store struct {
	db          *sql.DB
	logger      *slog.Logger
	stmtGet     *sql.Stmt
	stmtList    *sql.Stmt
	stmtLoadAll *sql.Stmt
	stmtUpsert  *sql.Stmt
	stmtDelete  *sql.Stmt
	stmtRename  *sql.Stmt
}

// New creates a Store over an initialized database, pre-compiling all
// necessary SQL statements.
func New(db *sql.DB, logger *slog.Logger) (*Store, error) {
	stmtGet, err := db.Prepare(`SELECT template_id, source, created_at, updated_at FROM templates WHERE template_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtList, err := db.Prepare(`SELECT template_id, template_name, created_at, updated_at FROM templates ORDER BY template_name;`)
	if err != nil {
		return nil, err
	}

	stmtLoadAll, err := db.Prepare(`SELECT template_name, source FROM templates;`)
	if err != nil {
		return nil, err
	}

	stmtUpsert, err := db.Prepare(`
INSERT INTO templates (template_id, template_name, source, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(template_name) DO UPDATE SET source = excluded.source, updated_at = excluded.updated_at;`)
	if err != nil {
		return nil, err
	}

	stmtDelete, err := db.Prepare(`DELETE FROM templates WHERE template_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtRename, err := db.Prepare(`UPDATE templates SET template_name = ?, updated_at = ? WHERE template_name = ?;`)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:          db,
		logger:      logger,
		stmtGet:     stmtGet,
		stmtList:    stmtList,
		stmtLoadAll: stmtLoadAll,
		stmtUpsert:  stmtUpsert,
		stmtDelete:  stmtDelete,
		stmtRename:  stmtRename,
	}, nil
}

// Close releases the prepared statements. It does not close the database
// connection, which the Store does not own.
func (s *Store) Close() {
	for _, stmt := range []*sql.Stmt{
		s.stmtGet, s.stmtList, s.stmtLoadAll, s.stmtUpsert,
		s.stmtDelete, s.stmtRename,
	} {
		_ = stmt.Close()
	}
}

// Put stores a template source under the given name, updating it in place
// when the name already exists. The source must compile; a template that
// fails to compile is rejected and the database is left untouched. The
// write is a single upsert, so concurrent Puts of the same name cannot
// collide on the unique name constraint.
func (s *Store) Put(ctx context.Context, name, source string) (TemplateInfo, error) {
	if name == "" {
		return TemplateInfo{}, errors.New("template name must not be empty")
	}
	if _, err := templating.Compile(source); err != nil {
		return TemplateInfo{}, fmt.Errorf("template %q is invalid: %w", name, err)
	}

	now := time.Now().UTC()
	// The fresh id is discarded when the name already exists; the conflict
	// clause keeps the stored row's id and created_at.
	if _, err := s.stmtUpsert.ExecContext(ctx, uuid.NewString(), name, source, now.Unix(), now.Unix()); err != nil {
		return TemplateInfo{}, fmt.Errorf("could not store template %q: %w", name, err)
	}
	st, err := s.Get(ctx, name)
	if err != nil {
		return TemplateInfo{}, err
	}
	return st.Info, nil
}

// StoredTemplate pairs a template's metadata with its source text.
type StoredTemplate struct {
	Info   TemplateInfo
	Source string
}

// Get retrieves a single template by name.
func (s *Store) Get(ctx context.Context, name string) (StoredTemplate, error) {
	var (
		st                   StoredTemplate
		createdAt, updatedAt int64
	)
	err := s.stmtGet.QueryRowContext(ctx, name).Scan(&st.Info.Id, &st.Source, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredTemplate{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return StoredTemplate{}, err
	}
	st.Info.Name = name
	st.Info.CreatedAt = time.Unix(createdAt, 0).UTC()
	st.Info.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return st, nil
}

// List retrieves the metadata of all stored templates, ordered by name.
func (s *Store) List(ctx context.Context) ([]TemplateInfo, error) {
	rows, err := s.stmtList.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var infos []TemplateInfo
	for rows.Next() {
		var (
			info                 TemplateInfo
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&info.Id, &info.Name, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		info.CreatedAt = time.Unix(createdAt, 0).UTC()
		info.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return infos, nil
}

// Delete removes a template by name.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.stmtDelete.ExecContext(ctx, name)
	if err != nil {
		return fmt.Errorf("could not delete template %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}

// Rename changes a template's name, keeping its id and source.
func (s *Store) Rename(ctx context.Context, oldName, newName string) error {
	if newName == "" {
		return errors.New("template name must not be empty")
	}
	res, err := s.stmtRename.ExecContext(ctx, newName, time.Now().UTC().Unix(), oldName)
	if err != nil {
		return fmt.Errorf("could not rename template %q: %w", oldName, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, oldName)
	}
	return nil
}

// LoadAll retrieves every stored template source keyed by name. It
// implements templating.Source, so a Manager can refresh directly from
// the store.
func (s *Store) LoadAll(ctx context.Context) (map[string]string, error) {
	rows, err := s.stmtLoadAll.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	sources := make(map[string]string)
	for rows.Next() {
		var name, source string
		if err := rows.Scan(&name, &source); err != nil {
			return nil, err
		}
		sources[name] = source
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sources, nil
}

// Export writes every stored template to w as JSON.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	infos, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("could not list templates for export: %w", err)
	}
	exported := make([]ExportedTemplate, 0, len(infos))
	for _, info := range infos {
		st, err := s.Get(ctx, info.Name)
		if err != nil {
			return fmt.Errorf("could not load template %q for export: %w", info.Name, err)
		}
		exported = append(exported, ExportedTemplate{Id: st.Info.Id, Name: info.Name, Source: st.Source})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exported); err != nil {
		return fmt.Errorf("could not encode templates: %w", err)
	}
	return nil
}

// Import reads a JSON template export from r and stores its templates.
// Existing templates with matching names are overwritten. Every imported
// source is compile-validated; the whole import is applied in a single
// transaction and rolled back on the first invalid template.
func (s *Store) Import(ctx context.Context, r io.Reader) error {
	var exported []ExportedTemplate
	if err := json.NewDecoder(r).Decode(&exported); err != nil {
		return fmt.Errorf("could not decode template export: %w", err)
	}

	for _, t := range exported {
		if t.Name == "" {
			return errors.New("imported template has an empty name")
		}
		if _, err := templating.Compile(t.Source); err != nil {
			return fmt.Errorf("imported template %q is invalid: %w", t.Name, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	now := time.Now().UTC().Unix()
	for _, t := range exported {
		id := t.Id
		if id == "" {
			id = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO templates (template_id, template_name, source, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(template_name) DO UPDATE SET source = excluded.source, updated_at = excluded.updated_at;`,
			id, t.Name, t.Source, now, now)
		if err != nil {
			return fmt.Errorf("could not import template %q: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	s.logger.Info("Imported templates", "count", len(exported))
	return nil
}
