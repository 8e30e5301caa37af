package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/capitalize-ai/support-platform/internal/model"
)

const (
	// DriverSQLite selects the pure-Go SQLite driver.
	DriverSQLite = "sqlite"
	// DriverPostgres selects the PostgreSQL driver.
	DriverPostgres = "postgres"
)

// SQLStore implements Store on database/sql. Queries use $N placeholders,
// which both SQLite and PostgreSQL accept.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens a database and runs migrations.
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// Each connection to an in-memory SQLite database is a separate database.
		if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(20)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			customer_email TEXT NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL,
			is_new_session INTEGER NOT NULL DEFAULT 0,
			previous_sessions TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			last_message_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_customer ON conversations(client_id, customer_email, created_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			client_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			sender_type TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			edited_at BIGINT,
			read_at BIGINT,
			sequence BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			assigned_agent TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			ticket_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			client_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_sentiment TEXT NOT NULL DEFAULT 'unknown',
			sentiment_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			escalation_triggered INTEGER NOT NULL DEFAULT 0,
			escalation_reason TEXT NOT NULL DEFAULT '',
			escalation_timestamp BIGINT,
			total_messages INTEGER NOT NULL DEFAULT 0,
			agent_messages INTEGER NOT NULL DEFAULT 0,
			customer_messages INTEGER NOT NULL DEFAULT 0,
			ai_suggestions_enabled INTEGER NOT NULL DEFAULT 1,
			auto_complete_enabled INTEGER NOT NULL DEFAULT 1,
			started_at BIGINT NOT NULL,
			closed_at BIGINT,
			duration BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_conversation ON chat_sessions(conversation_id, started_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_sessions_open ON chat_sessions(conversation_id) WHERE status <> 'closed'`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_agent ON chat_sessions(client_id, agent_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS chat_session_notes (
			id TEXT PRIMARY KEY,
			chat_session_id TEXT NOT NULL REFERENCES chat_sessions(id),
			author_id TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			is_internal INTEGER NOT NULL DEFAULT 1,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_session_notes_session ON chat_session_notes(chat_session_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a unique constraint failure from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"))
	}
	return false
}

const conversationColumns = `id, client_id, customer_email, customer_name, session_id, is_new_session,
	previous_sessions, status, last_message_at, created_at, updated_at`

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var conv model.Conversation
	var isNew int64
	var previous string
	var lastMessage, created, updated int64
	err := row.Scan(&conv.ID, &conv.ClientID, &conv.CustomerEmail, &conv.CustomerName, &conv.SessionID,
		&isNew, &previous, &conv.Status, &lastMessage, &created, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(previous), &conv.PreviousSessions); err != nil {
		return nil, fmt.Errorf("failed to decode previous sessions: %w", err)
	}
	conv.IsNewSession = isNew != 0
	conv.LastMessageAt = fromNanos(lastMessage)
	conv.CreatedAt = fromNanos(created)
	conv.UpdatedAt = fromNanos(updated)
	return &conv, nil
}

// CreateConversation stores a new conversation.
func (s *SQLStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	previous := conv.PreviousSessions
	if previous == nil {
		previous = []model.SessionSummary{}
	}
	data, err := json.Marshal(previous)
	if err != nil {
		return fmt.Errorf("failed to encode previous sessions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO conversations (`+conversationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		conv.ID, conv.ClientID, conv.CustomerEmail, conv.CustomerName, conv.SessionID,
		boolToInt(conv.IsNewSession), string(data), string(conv.Status),
		toNanos(conv.LastMessageAt), toNanos(conv.CreatedAt), toNanos(conv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns a page of a client's conversations, newest first.
func (s *SQLStore) ListConversations(ctx context.Context, clientID string, limit, offset int) ([]model.Conversation, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE client_id = $1`, clientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+conversationColumns+` FROM conversations
		WHERE client_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, clientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	convs, err := collectConversations(rows)
	if err != nil {
		return nil, 0, err
	}
	return convs, total, nil
}

// FindConversationsByCustomer returns the customer's conversations newest first.
func (s *SQLStore) FindConversationsByCustomer(ctx context.Context, identity model.CustomerIdentity) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+conversationColumns+` FROM conversations
		WHERE client_id = $1 AND customer_email = $2 ORDER BY created_at DESC, id DESC`,
		identity.ClientID, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find conversations: %w", err)
	}
	return collectConversations(rows)
}

func collectConversations(rows *sql.Rows) ([]model.Conversation, error) {
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}
	return convs, nil
}

// TouchConversation records message activity on a conversation.
func (s *SQLStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations
		SET last_message_at = CASE WHEN last_message_at < $1 THEN $1 ELSE last_message_at END, updated_at = $1
		WHERE id = $2`, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return requireRow(res)
}

// SetConversationStatus updates a conversation's lifecycle status.
func (s *SQLStore) SetConversationStatus(ctx context.Context, id string, status model.ConversationStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), toNanos(at), id)
	if err != nil {
		return fmt.Errorf("failed to update conversation status: %w", err)
	}
	return requireRow(res)
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

// CreateMessage stores a message.
func (s *SQLStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages
		(id, conversation_id, client_id, session_id, sender_type, sender_id, content, created_at, edited_at, read_at, sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.ConversationID, msg.ClientID, msg.SessionID, string(msg.SenderType), msg.SenderID,
		msg.Content, toNanos(msg.CreatedAt), nullNanos(msg.EditedAt), nullNanos(msg.ReadAt), int64(msg.Sequence))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ListMessages returns messages of the given conversations in creation order.
func (s *SQLStore) ListMessages(ctx context.Context, conversationIDs []string) ([]model.Message, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(conversationIDs))
	args := make([]any, len(conversationIDs))
	for i, id := range conversationIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, conversation_id, client_id, session_id, sender_type, sender_id,
		content, created_at, edited_at, read_at, sequence
		FROM messages WHERE conversation_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var msg model.Message
		var created, sequence int64
		var edited, readAt sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.ClientID, &msg.SessionID, &msg.SenderType,
			&msg.SenderID, &msg.Content, &created, &edited, &readAt, &sequence); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.CreatedAt = fromNanos(created)
		msg.EditedAt = fromNullNanos(edited)
		msg.ReadAt = fromNullNanos(readAt)
		msg.Sequence = uint64(sequence)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return msgs, nil
}

// CountMessages counts the messages of a conversation.
func (s *SQLStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

const chatSessionColumns = `id, ticket_id, conversation_id, agent_id, client_id, status,
	current_sentiment, sentiment_score, escalation_triggered, escalation_reason, escalation_timestamp,
	total_messages, agent_messages, customer_messages, ai_suggestions_enabled, auto_complete_enabled,
	started_at, closed_at, duration`

func scanChatSession(row rowScanner) (*model.ChatSession, error) {
	var cs model.ChatSession
	var triggered, suggestions, autoComplete, started int64
	var escalatedAt, closed sql.NullInt64
	err := row.Scan(&cs.ID, &cs.TicketID, &cs.ConversationID, &cs.AgentID, &cs.ClientID, &cs.Status,
		&cs.Sentiment.CurrentSentiment, &cs.Sentiment.SentimentScore, &triggered, &cs.Sentiment.EscalationReason,
		&escalatedAt, &cs.TotalMessages, &cs.AgentMessages, &cs.CustomerMessages, &suggestions, &autoComplete,
		&started, &closed, &cs.Duration)
	if err != nil {
		return nil, err
	}
	cs.Sentiment.EscalationTriggered = triggered != 0
	cs.AISuggestionsEnabled = suggestions != 0
	cs.AutoCompleteEnabled = autoComplete != 0
	cs.Notes = []model.SessionNote{}
	cs.Sentiment.EscalationTimestamp = fromNullNanos(escalatedAt)
	cs.StartedAt = fromNanos(started)
	cs.ClosedAt = fromNullNanos(closed)
	return &cs, nil
}

// CreateChatSession stores a new chat session.
func (s *SQLStore) CreateChatSession(ctx context.Context, cs *model.ChatSession) error {
	sentiment := cs.Sentiment.CurrentSentiment
	if sentiment == "" {
		sentiment = model.SentimentUnknown
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO chat_sessions (`+chatSessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		cs.ID, cs.TicketID, cs.ConversationID, cs.AgentID, cs.ClientID, string(cs.Status),
		string(sentiment), cs.Sentiment.SentimentScore, boolToInt(cs.Sentiment.EscalationTriggered),
		cs.Sentiment.EscalationReason, nullNanos(cs.Sentiment.EscalationTimestamp),
		cs.TotalMessages, cs.AgentMessages, cs.CustomerMessages,
		boolToInt(cs.AISuggestionsEnabled), boolToInt(cs.AutoCompleteEnabled),
		toNanos(cs.StartedAt), nullNanos(cs.ClosedAt), cs.Duration)
	if isUniqueViolation(err) {
		return fmt.Errorf("chat session %s: %w", cs.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert chat session: %w", err)
	}
	for _, note := range cs.Notes {
		if err := s.insertNote(ctx, cs.ID, note); err != nil {
			return err
		}
	}
	return nil
}

// GetChatSession retrieves a chat session by ID.
func (s *SQLStore) GetChatSession(ctx context.Context, id string) (*model.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatSessionColumns+` FROM chat_sessions WHERE id = $1`, id)
	cs, err := scanChatSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat session: %w", err)
	}
	if err := s.loadNotes(ctx, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// ListOpenChatSessionsByAgent returns an agent's non-closed sessions, newest first.
func (s *SQLStore) ListOpenChatSessionsByAgent(ctx context.Context, clientID, agentID string) ([]model.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chatSessionColumns+` FROM chat_sessions
		WHERE client_id = $1 AND agent_id = $2 AND status <> 'closed'
		ORDER BY started_at DESC, id DESC`, clientID, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat sessions: %w", err)
	}

	var out []model.ChatSession
	for rows.Next() {
		cs, err := scanChatSession(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan chat session: %w", err)
		}
		out = append(out, *cs)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read chat sessions: %w", err)
	}

	// Notes are loaded after the cursor is closed; in-memory SQLite has one connection.
	for i := range out {
		if err := s.loadNotes(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AddChatSessionNote appends a note to a chat session.
func (s *SQLStore) AddChatSessionNote(ctx context.Context, id string, note model.SessionNote) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_sessions WHERE id = $1`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to find chat session: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return s.insertNote(ctx, id, note)
}

func (s *SQLStore) insertNote(ctx context.Context, chatSessionID string, note model.SessionNote) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO chat_session_notes
		(id, chat_session_id, author_id, text, is_internal, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.Must(uuid.NewV7()).String(), chatSessionID, note.AuthorID, note.Text,
		boolToInt(note.Internal), toNanos(note.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert chat session note: %w", err)
	}
	return nil
}

func (s *SQLStore) loadNotes(ctx context.Context, cs *model.ChatSession) error {
	rows, err := s.db.QueryContext(ctx, `SELECT author_id, text, is_internal, created_at
		FROM chat_session_notes WHERE chat_session_id = $1 ORDER BY created_at ASC, id ASC`, cs.ID)
	if err != nil {
		return fmt.Errorf("failed to load chat session notes: %w", err)
	}
	defer rows.Close()

	notes := []model.SessionNote{}
	for rows.Next() {
		var note model.SessionNote
		var internal, created int64
		if err := rows.Scan(&note.AuthorID, &note.Text, &internal, &created); err != nil {
			return fmt.Errorf("failed to scan chat session note: %w", err)
		}
		note.Internal = internal != 0
		note.CreatedAt = fromNanos(created)
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read chat session notes: %w", err)
	}
	cs.Notes = notes
	return nil
}

// FindOpenChatSession returns the newest non-closed chat session of a conversation.
func (s *SQLStore) FindOpenChatSession(ctx context.Context, conversationID string) (*model.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatSessionColumns+` FROM chat_sessions
		WHERE conversation_id = $1 AND status <> 'closed'
		ORDER BY started_at DESC, id DESC LIMIT 1`, conversationID)
	cs, err := scanChatSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find chat session: %w", err)
	}
	if err := s.loadNotes(ctx, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// missReason explains why a conditional update on a chat session touched no rows.
func (s *SQLStore) missReason(ctx context.Context, id string) (*model.ChatSession, error) {
	cs, err := s.GetChatSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if cs.Closed() {
		return cs, ErrClosed
	}
	return cs, nil
}

// RecordCustomerMessage bumps customer counters and overwrites the current sentiment.
func (s *SQLStore) RecordCustomerMessage(ctx context.Context, id string, sentiment model.Sentiment, score float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_sessions
		SET total_messages = total_messages + 1, customer_messages = customer_messages + 1,
			current_sentiment = $1, sentiment_score = $2
		WHERE id = $3 AND status <> 'closed'`, string(sentiment), score, id)
	if err != nil {
		return fmt.Errorf("failed to record customer message: %w", err)
	}
	return s.expectOpenRow(ctx, res, id)
}

// RecordAgentMessage bumps agent counters.
func (s *SQLStore) RecordAgentMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_sessions
		SET total_messages = total_messages + 1, agent_messages = agent_messages + 1
		WHERE id = $1 AND status <> 'closed'`, id)
	if err != nil {
		return fmt.Errorf("failed to record agent message: %w", err)
	}
	return s.expectOpenRow(ctx, res, id)
}

func (s *SQLStore) expectOpenRow(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = s.missReason(ctx, id)
	if err == nil {
		return ErrConflict
	}
	return err
}

// TryEscalate moves an active or on_hold session to escalated.
func (s *SQLStore) TryEscalate(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_sessions
		SET status = 'escalated', escalation_triggered = 1, escalation_reason = $1, escalation_timestamp = $2
		WHERE id = $3 AND status IN ('active', 'on_hold') AND escalation_triggered = 0`,
		reason, toNanos(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to escalate chat session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.missReason(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// TransitionChatSession moves a session between two statuses.
func (s *SQLStore) TransitionChatSession(ctx context.Context, id string, from, to model.ChatSessionStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to transition chat session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	cs, err := s.missReason(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("chat session %s is %s: %w", id, cs.Status, ErrConflict)
}

// CloseChatSession closes a session and computes its duration in whole seconds.
func (s *SQLStore) CloseChatSession(ctx context.Context, id string, at time.Time) (*model.ChatSession, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_sessions
		SET status = 'closed', closed_at = $1, duration = ($1 - started_at) / 1000000000
		WHERE id = $2 AND status <> 'closed'`, toNanos(at), id)
	if err != nil {
		return nil, fmt.Errorf("failed to close chat session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := s.missReason(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return s.GetChatSession(ctx, id)
}

// CreateTicket stores a new ticket.
func (s *SQLStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tickets
		(id, client_id, conversation_id, subject, status, priority, assigned_agent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.ClientID, t.ConversationID, t.Subject, string(t.Status), string(t.Priority),
		t.AssignedAgent, toNanos(t.CreatedAt), toNanos(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert ticket: %w", err)
	}
	return nil
}

// GetTicket retrieves a ticket by ID.
func (s *SQLStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	var t model.Ticket
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `SELECT id, client_id, conversation_id, subject, status, priority,
		assigned_agent, created_at, updated_at FROM tickets WHERE id = $1`, id).
		Scan(&t.ID, &t.ClientID, &t.ConversationID, &t.Subject, &t.Status, &t.Priority,
			&t.AssignedAgent, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	t.CreatedAt = fromNanos(created)
	t.UpdatedAt = fromNanos(updated)
	return &t, nil
}

// EscalateTicket marks a ticket escalated with urgent priority.
func (s *SQLStore) EscalateTicket(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tickets SET status = $1, priority = $2, updated_at = $3 WHERE id = $4`,
		string(model.TicketEscalated), string(model.PriorityUrgent), toNanos(at), id)
	if err != nil {
		return fmt.Errorf("failed to escalate ticket: %w", err)
	}
	return requireRow(res)
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
