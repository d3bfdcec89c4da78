package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/sopdesk/backend/internal/storage/models"
	"github.com/sopdesk/backend/pkg/logger"
)

// Client mirrors the in-memory index into SQLite so the process can warm
// start before its first crawl. The snapshot stays the read path for
// search; nothing here is consulted per query.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS procedure_documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		raw_content TEXT,
		clean_content TEXT,
		sections TEXT,
		category TEXT NOT NULL,
		keywords TEXT,
		version INTEGER NOT NULL,
		last_modified INTEGER,
		labels TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_documents_category ON procedure_documents(category);
	CREATE INDEX IF NOT EXISTS idx_documents_modified ON procedure_documents(last_modified);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		full_sync INTEGER NOT NULL,
		total INTEGER,
		added INTEGER,
		updated INTEGER,
		removed INTEGER,
		errors TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// SaveDocuments replaces the mirrored document set wholesale, matching the
// snapshot-replacement semantics of the index.
func (c *Client) SaveDocuments(docs []*models.ProcedureDocument) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM procedure_documents"); err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO procedure_documents
			(id, title, raw_content, clean_content, sections, category, keywords, version, last_modified, labels)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		sections, err := json.Marshal(doc.Sections)
		if err != nil {
			return fmt.Errorf("failed to marshal sections for %s: %w", doc.ID, err)
		}
		keywords, err := json.Marshal(doc.Keywords)
		if err != nil {
			return fmt.Errorf("failed to marshal keywords for %s: %w", doc.ID, err)
		}
		labels, err := json.Marshal(doc.Labels)
		if err != nil {
			return fmt.Errorf("failed to marshal labels for %s: %w", doc.ID, err)
		}

		_, err = stmt.Exec(
			doc.ID,
			doc.Title,
			doc.RawContent,
			doc.CleanContent,
			string(sections),
			string(doc.Category),
			string(keywords),
			doc.Version,
			doc.LastModified.Unix(),
			string(labels),
		)
		if err != nil {
			return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit documents: %w", err)
	}

	logger.Debug("Documents mirrored to SQLite", zap.Int("count", len(docs)))
	return nil
}

// LoadDocuments restores the mirrored document set for index warm start.
func (c *Client) LoadDocuments() ([]*models.ProcedureDocument, error) {
	rows, err := c.db.Query(`
		SELECT id, title, raw_content, clean_content, sections, category, keywords, version, last_modified, labels
		FROM procedure_documents
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.ProcedureDocument
	for rows.Next() {
		var doc models.ProcedureDocument
		var sections, keywords, labels, category string
		var lastModified int64

		err := rows.Scan(
			&doc.ID,
			&doc.Title,
			&doc.RawContent,
			&doc.CleanContent,
			&sections,
			&category,
			&keywords,
			&doc.Version,
			&lastModified,
			&labels,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		doc.Category = models.Category(category)
		doc.LastModified = time.Unix(lastModified, 0).UTC()
		if err := json.Unmarshal([]byte(sections), &doc.Sections); err != nil {
			logger.Warn("Skipping document with corrupt sections", zap.String("doc_id", doc.ID))
			continue
		}
		json.Unmarshal([]byte(keywords), &doc.Keywords)
		json.Unmarshal([]byte(labels), &doc.Labels)

		docs = append(docs, &doc)
	}

	return docs, rows.Err()
}

func (c *Client) SaveSyncRun(run *models.SyncRun) error {
	errors, err := json.Marshal(run.Result.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal sync errors: %w", err)
	}

	_, err = c.db.Exec(`
		INSERT INTO sync_runs (id, started_at, finished_at, full_sync, total, added, updated, removed, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.StartedAt.Unix(),
		run.FinishedAt.Unix(),
		boolToInt(run.Full),
		run.Result.Total,
		run.Result.Added,
		run.Result.Updated,
		run.Result.Removed,
		string(errors),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
