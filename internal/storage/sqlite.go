package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for conversations, turns,
// leads, agent claims, and quota counters.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "concierge.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection: claim and counter updates rely on the guarded
	// UPDATE/INSERT being the only writer, and it avoids "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// --- Conversations ---

const conversationCols = "id, user_id, username, status, lead_score, priority, escalation_reason, escalated_at, created_at, updated_at"

func (s *Store) CreateConversation(c Conversation) error {
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, user_id, username, status, lead_score, priority, escalation_reason, escalated_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		c.ID, c.UserID, c.Username, c.Status, c.LeadScore, c.Priority, c.EscalationReason,
		fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt),
	)
	return err
}

func (s *Store) scanConversation(row interface{ Scan(...any) error }) (Conversation, error) {
	var c Conversation
	var escalatedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.UserID, &c.Username, &c.Status, &c.LeadScore, &c.Priority,
		&c.EscalationReason, &escalatedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	if escalatedAt.Valid {
		t, err := parseTime(escalatedAt.String)
		if err != nil {
			return Conversation{}, fmt.Errorf("parsing escalated_at: %w", err)
		}
		c.EscalatedAt = &t
	}
	return c, nil
}

func (s *Store) GetConversation(id string) (Conversation, error) {
	row := s.db.QueryRow("SELECT "+conversationCols+" FROM conversations WHERE id = ?", id)
	return s.scanConversation(row)
}

func (s *Store) GetConversationByUserID(userID int64) (Conversation, error) {
	row := s.db.QueryRow("SELECT "+conversationCols+" FROM conversations WHERE user_id = ?", userID)
	return s.scanConversation(row)
}

// EscalateConversation applies the escalation transition as a single atomic
// update: status, timestamp, reason, and priority move together. Returns
// ErrNotFound if the conversation does not exist.
func (s *Store) EscalateConversation(id, reason, priority string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE conversations
		SET status = ?, escalation_reason = ?, priority = ?, escalated_at = ?, updated_at = ?
		WHERE id = ?`,
		StatusEscalated, reason, priority, fmtTime(at), fmtTime(at), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ReopenConversation returns an escalated conversation to bot handling,
// clearing the escalation fields in the same update.
func (s *Store) ReopenConversation(id string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE conversations
		SET status = ?, escalation_reason = '', priority = '', escalated_at = NULL, updated_at = ?
		WHERE id = ?`,
		StatusActive, fmtTime(at), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) SetConversationStatus(id, status string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		status, fmtTime(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) SetLeadScore(id, score string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE conversations SET lead_score = ?, updated_at = ? WHERE id = ?`,
		score, fmtTime(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) TouchConversation(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, fmtTime(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListEscalated returns escalated conversations, oldest escalation first.
func (s *Store) ListEscalated() ([]Conversation, error) {
	rows, err := s.db.Query("SELECT " + conversationCols + " FROM conversations WHERE status = 'escalated' ORDER BY escalated_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		c, err := s.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func (s *Store) ListConversations(limit int) ([]Conversation, error) {
	rows, err := s.db.Query("SELECT "+conversationCols+" FROM conversations ORDER BY updated_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		c, err := s.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Turns ---

// AppendTurn inserts a turn. Turns are append-only; there is no update path.
func (s *Store) AppendTurn(t Turn) error {
	_, err := s.db.Exec(`
		INSERT INTO turns (id, conversation_id, sender, content, intent, llm_used, llm_tokens, llm_confidence, llm_latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ConversationID, t.Sender, t.Content, t.Intent,
		boolToInt(t.LLMUsed), t.LLMTokens, t.LLMConfidence, t.LLMLatencyMS, fmtTime(t.CreatedAt),
	)
	return err
}

// GetRecentTurns returns up to limit most recent turns in chronological order.
func (s *Store) GetRecentTurns(conversationID string, limit int) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, sender, content, intent, llm_used, llm_tokens, llm_confidence, llm_latency_ms, created_at
		FROM turns WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Turn
	for rows.Next() {
		var t Turn
		var llmUsed int
		var createdAt string
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Sender, &t.Content, &t.Intent,
			&llmUsed, &t.LLMTokens, &t.LLMConfidence, &t.LLMLatencyMS, &createdAt); err != nil {
			return nil, err
		}
		t.LLMUsed = llmUsed != 0
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

func (s *Store) CountTurns(conversationID string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM turns WHERE conversation_id = ?", conversationID).Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Leads ---

func (s *Store) SaveLead(l Lead) error {
	_, err := s.db.Exec(`
		INSERT INTO leads (id, conversation_id, name, email, company, project_type, description, timeline, budget, score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ConversationID, l.Name, l.Email, l.Company, l.ProjectType,
		l.Description, l.Timeline, l.Budget, l.Score, fmtTime(l.CreatedAt),
	)
	return err
}

func (s *Store) GetLeadByConversation(conversationID string) (Lead, error) {
	var l Lead
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, conversation_id, name, email, company, project_type, description, timeline, budget, score, created_at
		FROM leads WHERE conversation_id = ? ORDER BY created_at DESC LIMIT 1`, conversationID,
	).Scan(&l.ID, &l.ConversationID, &l.Name, &l.Email, &l.Company, &l.ProjectType,
		&l.Description, &l.Timeline, &l.Budget, &l.Score, &createdAt)
	if err == sql.ErrNoRows {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, err
	}
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return Lead{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return l, nil
}

// --- Agent claims ---

// InsertClaim attempts to record a claim. It reports whether the row was
// inserted; false means another claim already holds the conversation. The
// INSERT OR IGNORE on the single-writer connection is the check-then-set:
// two racing claims serialize here and exactly one inserts.
func (s *Store) InsertClaim(conversationID, agentID string, at time.Time) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO agent_claims (conversation_id, agent_id, claimed_at)
		VALUES (?, ?, ?)`,
		conversationID, agentID, fmtTime(at),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) GetClaim(conversationID string) (Claim, error) {
	var c Claim
	var claimedAt string
	err := s.db.QueryRow(`SELECT conversation_id, agent_id, claimed_at FROM agent_claims WHERE conversation_id = ?`,
		conversationID).Scan(&c.ConversationID, &c.AgentID, &claimedAt)
	if err == sql.ErrNoRows {
		return Claim{}, ErrNotFound
	}
	if err != nil {
		return Claim{}, err
	}
	if c.ClaimedAt, err = parseTime(claimedAt); err != nil {
		return Claim{}, fmt.Errorf("parsing claimed_at: %w", err)
	}
	return c, nil
}

// DeleteClaim removes a claim only if agentID is the current owner.
// Reports whether a row was deleted.
func (s *Store) DeleteClaim(conversationID, agentID string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM agent_claims WHERE conversation_id = ? AND agent_id = ?`,
		conversationID, agentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteClaimsBefore removes claims older than cutoff, returning the count.
func (s *Store) DeleteClaimsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM agent_claims WHERE claimed_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Quota counters ---

// AddToCounter increments a (scope, period) counter by one call and the given
// cost. The upsert is atomic on the single-writer connection; a fresh period
// key starts a fresh row, which is what makes counters reset by rollover.
func (s *Store) AddToCounter(scope, period string, costMillicents int64) error {
	_, err := s.db.Exec(`
		INSERT INTO quota_counters (scope, period, count, cost_millicents) VALUES (?, ?, 1, ?)
		ON CONFLICT(scope, period) DO UPDATE SET
			count = count + 1,
			cost_millicents = cost_millicents + excluded.cost_millicents`,
		scope, period, costMillicents,
	)
	return err
}

// GetCounter returns the call count and accumulated cost for (scope, period).
// A missing row reads as zero.
func (s *Store) GetCounter(scope, period string) (count int, costMillicents int64, err error) {
	err = s.db.QueryRow(`SELECT count, cost_millicents FROM quota_counters WHERE scope = ? AND period = ?`,
		scope, period).Scan(&count, &costMillicents)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	return count, costMillicents, err
}

// DeleteCountersBefore prunes daily counters whose period sorts before cutoff
// (periods are YYYY-MM-DD, so string comparison is date comparison).
func (s *Store) DeleteCountersBefore(cutoff string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM quota_counters WHERE period < ? AND period GLOB '[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]'`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteCounterScope removes all periods for a scope (used when a
// conversation session ends).
func (s *Store) DeleteCounterScope(scope string) error {
	_, err := s.db.Exec(`DELETE FROM quota_counters WHERE scope = ?`, scope)
	return err
}
