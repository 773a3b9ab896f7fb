package meetings

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContentFile is one indexed workspace document tied to an entity.
type ContentFile struct {
	ID                    string    `json:"id"`
	EntityID              string    `json:"entity_id"`
	Filename              string    `json:"filename"`
	RelativePath          string    `json:"relative_path"`
	AbsolutePath          string    `json:"absolute_path"`
	Format                string    `json:"format"`
	ModifiedAt            time.Time `json:"modified_at"`
	IndexedAt             time.Time `json:"indexed_at"`
	ContentType           string    `json:"content_type"`
	Priority              int       `json:"priority"`
	Summary               string    `json:"summary,omitempty"`
	EmbeddingsGeneratedAt time.Time `json:"embeddings_generated_at,omitempty"`
}

// ContentChunk is one embedded slice of a content file.
type ContentChunk struct {
	ID            string
	ContentFileID string
	ChunkIndex    int
	ChunkText     string
	Embedding     []byte // packed little-endian float32s
	CreatedAt     time.Time
}

func (s *Store) migrateContent() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS content_files (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			relative_path TEXT NOT NULL,
			absolute_path TEXT NOT NULL,
			format TEXT,
			modified_at TEXT,
			indexed_at TEXT NOT NULL,
			content_type TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			summary TEXT,
			embeddings_generated_at TEXT,
			UNIQUE (entity_id, relative_path)
		);
		CREATE INDEX IF NOT EXISTS idx_content_files_entity ON content_files(entity_id);

		CREATE TABLE IF NOT EXISTS content_embeddings (
			id TEXT PRIMARY KEY,
			content_file_id TEXT NOT NULL REFERENCES content_files(id),
			chunk_index INTEGER NOT NULL,
			chunk_text TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (content_file_id, chunk_index)
		);
	`)
	return err
}

// IndexContentFile upserts a content file record, keyed by (entity,
// relative path). A changed modified_at clears the embedding stamp so the
// embeddings processor re-chunks the file.
func (s *Store) IndexContentFile(f *ContentFile) (*ContentFile, error) {
	if f.ID == "" {
		f.ID = "cf-" + uuid.NewString()
	}
	f.IndexedAt = time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO content_files (id, entity_id, filename, relative_path, absolute_path, format, modified_at, indexed_at, content_type, priority, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, relative_path) DO UPDATE SET
			filename = excluded.filename,
			absolute_path = excluded.absolute_path,
			format = excluded.format,
			modified_at = excluded.modified_at,
			indexed_at = excluded.indexed_at,
			content_type = excluded.content_type,
			priority = excluded.priority,
			embeddings_generated_at = CASE
				WHEN content_files.modified_at IS NOT excluded.modified_at THEN NULL
				ELSE content_files.embeddings_generated_at
			END
	`, f.ID, f.EntityID, f.Filename, f.RelativePath, f.AbsolutePath, nullStr(f.Format),
		nullTime(f.ModifiedAt), f.IndexedAt.Format(time.RFC3339), nullStr(f.ContentType),
		f.Priority, nullStr(f.Summary))
	if err != nil {
		return nil, fmt.Errorf("index content file: %w", err)
	}
	return f, nil
}

// SetContentSummary stores a mechanical or AI-written summary for a file.
func (s *Store) SetContentSummary(fileID, summary string) error {
	_, err := s.db.Exec(`UPDATE content_files SET summary = ? WHERE id = ?`, summary, fileID)
	if err != nil {
		return fmt.Errorf("set content summary: %w", err)
	}
	return nil
}

// UnsummarizedContentFiles returns indexed files that have no summary yet,
// capped at limit. Hygiene's backfill pass consumes this in bounded chunks.
func (s *Store) UnsummarizedContentFiles(limit int) ([]*ContentFile, error) {
	rows, err := s.db.Query(`
		SELECT id, entity_id, filename, relative_path, absolute_path, format, modified_at, indexed_at, content_type, priority, summary, embeddings_generated_at
		FROM content_files WHERE summary IS NULL OR summary = ''
		ORDER BY priority DESC, indexed_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsummarized files: %w", err)
	}
	return collectContentFiles(rows)
}

// ContentHighlights returns the highest-priority summarized files for an
// entity, used by prep assembly.
func (s *Store) ContentHighlights(entityID string, limit int) ([]*ContentFile, error) {
	rows, err := s.db.Query(`
		SELECT id, entity_id, filename, relative_path, absolute_path, format, modified_at, indexed_at, content_type, priority, summary, embeddings_generated_at
		FROM content_files WHERE entity_id = ? AND summary IS NOT NULL AND summary != ''
		ORDER BY priority DESC, modified_at DESC LIMIT ?
	`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query content highlights: %w", err)
	}
	return collectContentFiles(rows)
}

// FilesNeedingEmbeddings returns files whose embeddings are missing or
// stale relative to the file's modification time.
func (s *Store) FilesNeedingEmbeddings(limit int) ([]*ContentFile, error) {
	rows, err := s.db.Query(`
		SELECT id, entity_id, filename, relative_path, absolute_path, format, modified_at, indexed_at, content_type, priority, summary, embeddings_generated_at
		FROM content_files WHERE embeddings_generated_at IS NULL
		ORDER BY priority DESC, indexed_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query files needing embeddings: %w", err)
	}
	return collectContentFiles(rows)
}

// StoreChunks replaces a file's embedded chunks and stamps
// embeddings_generated_at, all in one transaction.
func (s *Store) StoreChunks(fileID string, chunks []ContentChunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM content_embeddings WHERE content_file_id = ?`, fileID); err != nil {
		return fmt.Errorf("clear old chunks: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for i, c := range chunks {
		if _, err := tx.Exec(`
			INSERT INTO content_embeddings (id, content_file_id, chunk_index, chunk_text, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, "ce-"+uuid.NewString(), fileID, i, c.ChunkText, c.Embedding, now); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	if _, err := tx.Exec(`UPDATE content_files SET embeddings_generated_at = ? WHERE id = ?`, now, fileID); err != nil {
		return fmt.Errorf("stamp embeddings: %w", err)
	}
	return tx.Commit()
}

func collectContentFiles(rows *sql.Rows) ([]*ContentFile, error) {
	defer rows.Close()
	var out []*ContentFile
	for rows.Next() {
		f := &ContentFile{}
		var format, modifiedAt, contentType, summary, embeddedAt sql.NullString
		var indexedAt string
		if err := rows.Scan(&f.ID, &f.EntityID, &f.Filename, &f.RelativePath, &f.AbsolutePath,
			&format, &modifiedAt, &indexedAt, &contentType, &f.Priority, &summary, &embeddedAt); err != nil {
			return nil, fmt.Errorf("scan content file: %w", err)
		}
		f.Format = format.String
		f.ModifiedAt = parseTime(modifiedAt.String)
		f.IndexedAt = parseTime(indexedAt)
		f.ContentType = contentType.String
		f.Summary = summary.String
		f.EmbeddingsGeneratedAt = parseTime(embeddedAt.String)
		out = append(out, f)
	}
	return out, rows.Err()
}
