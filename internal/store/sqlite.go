// Package store persists users, reminders, broadcasts, channel sessions,
// webtokens, and cached translations in SQLite.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"botflow/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		identity         TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		service          TEXT NOT NULL,
		via_instance     TEXT NOT NULL,
		first_name       TEXT,
		last_name        TEXT,
		username         TEXT,
		language         TEXT NOT NULL DEFAULT 'en',
		type             INTEGER NOT NULL DEFAULT 1,
		permission_level INTEGER NOT NULL DEFAULT 0,
		conversation_id  TEXT,
		states           TEXT NOT NULL,
		context          TEXT NOT NULL,
		answers          TEXT NOT NULL,
		files            TEXT NOT NULL,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_active      DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS checkbacks (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		identity  TEXT NOT NULL,
		context   TEXT NOT NULL,
		send_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkbacks_send ON checkbacks(send_at);

	CREATE TABLE IF NOT EXISTS broadcasts (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		context    TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		name      TEXT PRIMARY KEY,
		token     TEXT NOT NULL,
		url       TEXT NOT NULL,
		broadcast TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_url ON sessions(url);

	CREATE TABLE IF NOT EXISTS webtokens (
		token      TEXT PRIMARY KEY,
		identity   TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS translations (
		language     TEXT NOT NULL,
		string_key   TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		text         TEXT NOT NULL,
		PRIMARY KEY (language, string_key)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- users ---

func (s *SQLiteStore) GetUser(ctx context.Context, identity string) (*domain.User, error) {
	var (
		u                                      domain.User
		states, userCtx, answers, files        string
		firstName, lastName, username, convID  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT identity, user_id, service, via_instance, first_name, last_name, username,
		        language, type, permission_level, conversation_id, states, context, answers, files,
		        created_at, last_active
		 FROM users WHERE identity = ?`, identity,
	).Scan(&u.Identity, &u.UserID, &u.Service, &u.ViaInstance, &firstName, &lastName, &username,
		&u.Language, &u.Type, &u.Permission, &convID, &states, &userCtx, &answers, &files,
		&u.CreatedAt, &u.LastActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.Username = username.String
	u.ConversationID = convID.String

	if err := json.Unmarshal([]byte(states), &u.States); err != nil {
		// A corrupted stack must not break dispatch; the handler falls
		// back to the start state.
		s.logger.Warn("corrupted state stack, resetting", "identity", identity, "error", err)
		u.States = nil
	}
	if err := json.Unmarshal([]byte(userCtx), &u.Context); err != nil {
		u.Context = make(map[string]any)
	}
	if err := json.Unmarshal([]byte(answers), &u.Answers); err != nil {
		u.Answers = make(map[string]any)
	}
	if err := json.Unmarshal([]byte(files), &u.Files); err != nil {
		u.Files = make(map[string]any)
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *domain.User) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.LastActive.IsZero() {
		u.LastActive = now
	}
	states, userCtx, answers, files, err := marshalUserBlobs(u)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users
		 (identity, user_id, service, via_instance, first_name, last_name, username,
		  language, type, permission_level, conversation_id, states, context, answers, files,
		  created_at, last_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Identity, u.UserID, u.Service, u.ViaInstance, u.FirstName, u.LastName, u.Username,
		u.Language, u.Type, u.Permission, nullable(u.ConversationID), states, userCtx, answers, files,
		u.CreatedAt, u.LastActive,
	)
	return err
}

func (s *SQLiteStore) CommitUser(ctx context.Context, u *domain.User) error {
	u.LastActive = time.Now()
	states, userCtx, answers, files, err := marshalUserBlobs(u)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET via_instance=?, first_name=?, last_name=?, username=?,
		        language=?, type=?, permission_level=?, conversation_id=?,
		        states=?, context=?, answers=?, files=?, last_active=?
		 WHERE identity=?`,
		u.ViaInstance, u.FirstName, u.LastName, u.Username,
		u.Language, u.Type, u.Permission, nullable(u.ConversationID),
		states, userCtx, answers, files, u.LastActive,
		u.Identity,
	)
	return err
}

func (s *SQLiteStore) SetUserInstance(ctx context.Context, identity, instance string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET via_instance = ? WHERE identity = ?`, instance, identity)
	return err
}

func (s *SQLiteStore) SetUserPermission(ctx context.Context, identity string, level domain.PermissionLevel) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET permission_level = ? WHERE identity = ?`, level, identity)
	return err
}

func (s *SQLiteStore) AppendUserState(ctx context.Context, identity, state string) error {
	u, err := s.GetUser(ctx, identity)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("unknown user: %s", identity)
	}
	u.States = append(u.States, state)
	states, err := json.Marshal(u.States)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET states = ? WHERE identity = ?`, string(states), identity)
	return err
}

// matchFields whitelists the columns broadcast target filters may use.
var matchFields = map[string]bool{
	"identity":         true,
	"user_id":          true,
	"service":          true,
	"via_instance":     true,
	"first_name":       true,
	"last_name":        true,
	"username":         true,
	"language":         true,
	"type":             true,
	"permission_level": true,
}

func (s *SQLiteStore) MatchUsers(ctx context.Context, conds []domain.UserCond) ([]*domain.User, error) {
	var (
		where []string
		args  []any
	)
	for _, c := range conds {
		if !matchFields[c.Field] {
			return nil, fmt.Errorf("unsupported filter field: %s", c.Field)
		}
		var clause string
		switch c.Op {
		case "=":
			clause = fmt.Sprintf("%s = ?", c.Field)
			args = append(args, c.Value)
		case "<":
			clause = fmt.Sprintf("%s < ?", c.Field)
			args = append(args, c.Value)
		case ">":
			clause = fmt.Sprintf("%s > ?", c.Field)
			args = append(args, c.Value)
		case "{":
			values, ok := c.Value.([]any)
			if !ok {
				return nil, fmt.Errorf("filter op { needs a list value")
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
			clause = fmt.Sprintf("%s IN (%s)", c.Field, placeholders)
			args = append(args, values...)
		case "}":
			clause = fmt.Sprintf("%s LIKE ?", c.Field)
			args = append(args, fmt.Sprintf("%%%v%%", c.Value))
		default:
			return nil, fmt.Errorf("unsupported filter op: %s", c.Op)
		}
		if c.Invert {
			clause = "NOT (" + clause + ")"
		}
		where = append(where, clause)
	}

	query := `SELECT identity FROM users`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	identities := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		identities = append(identities, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	users := make([]*domain.User, 0, len(identities))
	for _, id := range identities {
		u, err := s.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if u != nil {
			users = append(users, u)
		}
	}
	return users, nil
}

// --- checkbacks ---

func (s *SQLiteStore) CreateCheckback(ctx context.Context, cb *domain.CheckBack) error {
	payload, err := json.Marshal(cb.Context)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO checkbacks (identity, context, send_at) VALUES (?, ?, ?)`,
		cb.Identity, string(payload), cb.SendAt,
	)
	if err != nil {
		return err
	}
	cb.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) CheckbacksInRange(ctx context.Context, from, to time.Time) (int, []*domain.CheckBack, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, context, send_at FROM checkbacks
		 WHERE send_at >= ? AND send_at < ? ORDER BY send_at`, from, to,
	)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	var items []*domain.CheckBack
	for rows.Next() {
		var (
			cb      domain.CheckBack
			payload string
		)
		if err := rows.Scan(&cb.ID, &cb.Identity, &payload, &cb.SendAt); err != nil {
			return 0, nil, err
		}
		if err := json.Unmarshal([]byte(payload), &cb.Context); err != nil {
			s.logger.Warn("corrupted checkback payload, skipping", "id", cb.ID, "error", err)
			continue
		}
		items = append(items, &cb)
	}
	return len(items), items, rows.Err()
}

func (s *SQLiteStore) RemoveCheckback(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkbacks WHERE id = ?`, id)
	return err
}

// --- broadcasts ---

func (s *SQLiteStore) CreateBroadcast(ctx context.Context, payload *domain.Request) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO broadcasts (context) VALUES (?)`, string(data))
	return err
}

func (s *SQLiteStore) PendingBroadcasts(ctx context.Context) (int, []*domain.Broadcast, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, context, created_at FROM broadcasts ORDER BY created_at`)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	var items []*domain.Broadcast
	for rows.Next() {
		var (
			b       domain.Broadcast
			payload string
		)
		if err := rows.Scan(&b.ID, &payload, &b.CreatedAt); err != nil {
			return 0, nil, err
		}
		if err := json.Unmarshal([]byte(payload), &b.Context); err != nil {
			s.logger.Warn("corrupted broadcast payload, skipping", "id", b.ID, "error", err)
			continue
		}
		items = append(items, &b)
	}
	return len(items), items, rows.Err()
}

func (s *SQLiteStore) RemoveBroadcast(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM broadcasts WHERE id = ?`, id)
	return err
}

// --- sessions ---

func (s *SQLiteStore) GetSession(ctx context.Context, name string) (*domain.ChannelSession, error) {
	var (
		cs        domain.ChannelSession
		broadcast sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, token, url, broadcast FROM sessions WHERE name = ?`, name,
	).Scan(&cs.Name, &cs.Token, &cs.URL, &broadcast)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cs.Broadcast = broadcast.String
	return &cs, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, cs *domain.ChannelSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (name, token, url, broadcast) VALUES (?, ?, ?, ?)`,
		cs.Name, cs.Token, cs.URL, nullable(cs.Broadcast),
	)
	return err
}

func (s *SQLiteStore) ChannelSessions(ctx context.Context) ([]*domain.ChannelSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, token, url, broadcast FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.ChannelSession
	for rows.Next() {
		var (
			cs        domain.ChannelSession
			broadcast sql.NullString
		)
		if err := rows.Scan(&cs.Name, &cs.Token, &cs.URL, &broadcast); err != nil {
			return nil, err
		}
		cs.Broadcast = broadcast.String
		sessions = append(sessions, &cs)
	}
	return sessions, rows.Err()
}

// --- webtokens ---

func (s *SQLiteStore) CreateWebToken(ctx context.Context, identity string) (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webtokens (token, identity) VALUES (?, ?)`, token, identity)
	if err != nil {
		return "", err
	}
	return token, nil
}

// --- translations ---

func (s *SQLiteStore) QueryTranslations(ctx context.Context, language string, keys []string) ([]*domain.Translation, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, 0, len(keys)+1)
	args = append(args, language)
	for _, k := range keys {
		args = append(args, k)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT language, string_key, content_hash, text FROM translations
		 WHERE language = ? AND string_key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.Translation
	for rows.Next() {
		var t domain.Translation
		if err := rows.Scan(&t.Language, &t.StringKey, &t.ContentHash, &t.Text); err != nil {
			return nil, err
		}
		items = append(items, &t)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) SaveTranslations(ctx context.Context, items []*domain.Translation) error {
	for _, t := range items {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO translations (language, string_key, content_hash, text)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(language, string_key) DO UPDATE SET content_hash=excluded.content_hash, text=excluded.text`,
			t.Language, t.StringKey, t.ContentHash, t.Text,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalUserBlobs(u *domain.User) (states, userCtx, answers, files string, err error) {
	if u.States == nil {
		u.States = []string{}
	}
	if u.Context == nil {
		u.Context = make(map[string]any)
	}
	if u.Answers == nil {
		u.Answers = make(map[string]any)
	}
	if u.Files == nil {
		u.Files = make(map[string]any)
	}
	b, err := json.Marshal(u.States)
	if err != nil {
		return "", "", "", "", err
	}
	states = string(b)
	if b, err = json.Marshal(u.Context); err != nil {
		return "", "", "", "", err
	}
	userCtx = string(b)
	if b, err = json.Marshal(u.Answers); err != nil {
		return "", "", "", "", err
	}
	answers = string(b)
	if b, err = json.Marshal(u.Files); err != nil {
		return "", "", "", "", err
	}
	files = string(b)
	return states, userCtx, answers, files, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
