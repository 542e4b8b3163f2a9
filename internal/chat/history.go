package chat

import (
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"rolechat/internal/llm"
)

// HistoryStore persists chat history to SQLite. The prompt window only
// sees the most recent entries, but every exchange is kept so sessions
// survive restarts with full continuity.
type HistoryStore struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryStore opens (or creates) the history database at path.
func NewHistoryStore(path string, logger *zap.Logger) (*HistoryStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// modernc sqlite serializes at the driver level, but a single
	// connection avoids SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS chat_history (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_chat_history_session ON chat_history(session_id, id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	return &HistoryStore{db: db, logger: logger}, nil
}

// AppendExchange records one completed user/assistant pair atomically.
// Called only after the model call that produced reply has returned.
func (h *HistoryStore) AppendExchange(sessionID, userText, reply string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin history transaction: %w", err)
	}

	const insert = `INSERT INTO chat_history (session_id, role, content) VALUES (?, ?, ?)`
	if _, err := tx.Exec(insert, sessionID, "user", userText); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to store user turn: %w", err)
	}
	if _, err := tx.Exec(insert, sessionID, "assistant", reply); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to store assistant turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history transaction: %w", err)
	}
	return nil
}

// Recent returns the last n history entries for a session, oldest
// first, ready to splice into a prompt.
func (h *HistoryStore) Recent(sessionID string, n int) ([]llm.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 {
		n = 40
	}

	rows, err := h.db.Query(
		`SELECT role, content FROM chat_history
		 WHERE session_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		sessionID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var reversed []llm.Message
	for rows.Next() {
		var m llm.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		reversed = append(reversed, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history rows: %w", err)
	}

	// Rows arrive newest first; flip to chronological order.
	out := make([]llm.Message, len(reversed))
	for i, m := range reversed {
		out[len(reversed)-1-i] = m
	}
	return out, nil
}

// Count returns the number of history entries for a session.
func (h *HistoryStore) Count(sessionID string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var n int
	err := h.db.QueryRow(
		`SELECT COUNT(*) FROM chat_history WHERE session_id = ?`, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

// DeleteSession removes all history for a session. Called when the
// session itself is deleted.
func (h *HistoryStore) DeleteSession(sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	res, err := h.db.Exec(`DELETE FROM chat_history WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		h.logger.Debug("deleted session history",
			zap.String("session_id", sessionID),
			zap.Int64("entries", n))
	}
	return nil
}

// Close closes the underlying database.
func (h *HistoryStore) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db.Close()
}
