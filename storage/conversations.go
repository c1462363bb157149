package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ragos/model"
)

// ConversationCache persists the last fetched conversation list so the picker
// opens instantly offline. The server stays the source of truth: writes only
// ever replace the whole list, and a stale flag records that the cache needs
// a refetch after a turn settles.
type ConversationCache struct {
	db *sql.DB
}

// NewConversationCache opens (and if needed creates) the history database
// under dataDir.
func NewConversationCache(dataDir string) (*ConversationCache, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "history.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cache := &ConversationCache{db: db}
	if err := cache.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return cache, nil
}

func (c *ConversationCache) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		title TEXT,
		last_message_preview TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	CREATE TABLE IF NOT EXISTS cache_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := c.db.Exec(schema)
	return err
}

// ReplaceAll swaps the cached list for the given one and clears the stale
// flag. The whole swap runs in one transaction so readers never see a
// half-replaced list.
func (c *ConversationCache) ReplaceAll(conversations []model.ConversationSummary) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM conversations"); err != nil {
		return fmt.Errorf("failed to clear conversations: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO conversations (conversation_id, title, last_message_preview, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, conv := range conversations {
		_, err := stmt.Exec(
			conv.ConversationID,
			conv.Title,
			conv.LastMessagePreview,
			conv.CreatedAt.UTC(),
			conv.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert conversation %s: %w", conv.ConversationID, err)
		}
	}

	if _, err := tx.Exec(`INSERT OR REPLACE INTO cache_meta (key, value) VALUES ('stale', '0')`); err != nil {
		return fmt.Errorf("failed to clear stale flag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// List returns the cached conversations, most recently updated first.
func (c *ConversationCache) List() ([]model.ConversationSummary, error) {
	rows, err := c.db.Query(`
		SELECT conversation_id, title, last_message_preview, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []model.ConversationSummary
	for rows.Next() {
		var conv model.ConversationSummary
		var title, preview sql.NullString
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&conv.ConversationID, &title, &preview, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		if title.Valid {
			conv.Title = &title.String
		}
		if preview.Valid {
			conv.LastMessagePreview = &preview.String
		}
		conv.CreatedAt = createdAt
		conv.UpdatedAt = updatedAt
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}
	return conversations, nil
}

// Invalidate marks the cache stale. Called after every settled turn; the next
// picker open refetches.
func (c *ConversationCache) Invalidate() error {
	_, err := c.db.Exec(`INSERT OR REPLACE INTO cache_meta (key, value) VALUES ('stale', '1')`)
	if err != nil {
		return fmt.Errorf("failed to set stale flag: %w", err)
	}
	return nil
}

// Stale reports whether the cached list needs a refetch. An empty cache is
// always stale.
func (c *ConversationCache) Stale() bool {
	var value string
	err := c.db.QueryRow(`SELECT value FROM cache_meta WHERE key = 'stale'`).Scan(&value)
	if err != nil {
		return true
	}
	return value != "0"
}

// Close closes the underlying database.
func (c *ConversationCache) Close() error {
	return c.db.Close()
}

// SaveCurrentConversationID records the last active conversation so the next
// launch can resume it.
func SaveCurrentConversationID(dataDir, id string) error {
	path := filepath.Join(dataDir, "current_conversation.id")
	return os.WriteFile(path, []byte(id), 0600)
}

// LoadCurrentConversationID returns the last active conversation ID, "" when
// none was recorded.
func LoadCurrentConversationID(dataDir string) string {
	path := filepath.Join(dataDir, "current_conversation.id")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ClearCurrentConversationID removes the resume marker, e.g. when the server
// no longer knows the conversation.
func ClearCurrentConversationID(dataDir string) error {
	path := filepath.Join(dataDir, "current_conversation.id")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
