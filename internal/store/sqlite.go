// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Creates its schema on open; timestamps stored as RFC3339Nano UTC strings

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat preserves sub-second precision so ordering survives a round trip.
const timeFormat = time.RFC3339Nano

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) a SQLite store at the given path.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS identities (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			capabilities TEXT NOT NULL DEFAULT '[]',
			credential_version INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			rules TEXT NOT NULL DEFAULT '[]',
			default_access TEXT NOT NULL DEFAULT 'none',
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_channels_name ON channels(name);

		CREATE TABLE IF NOT EXISTS memberships (
			channel_id TEXT NOT NULL,
			identity_id TEXT NOT NULL,
			joined_at TEXT NOT NULL,
			PRIMARY KEY (channel_id, identity_id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			target_id TEXT NOT NULL,
			target_kind TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			text TEXT NOT NULL,
			data TEXT NOT NULL DEFAULT '',
			mentions TEXT NOT NULL DEFAULT '[]',
			thread_id TEXT NOT NULL DEFAULT '',
			signature TEXT NOT NULL,
			delivery TEXT NOT NULL,
			sent_at TEXT NOT NULL,
			edited_at TEXT,
			deleted_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_messages_target ON messages(target_id, sent_at);
		CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);

		CREATE TABLE IF NOT EXISTS presence (
			identity_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			status_message TEXT NOT NULL DEFAULT '',
			activity TEXT NOT NULL DEFAULT '',
			active_channels TEXT NOT NULL DEFAULT '[]',
			last_heartbeat_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// SaveIdentity upserts an identity record.
func (s *SQLiteStore) SaveIdentity(ctx context.Context, rec *IdentityRecord) error {
	query := `
		INSERT INTO identities (id, display_name, capabilities, credential_version, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			capabilities = excluded.capabilities,
			credential_version = excluded.credential_version
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.DisplayName, rec.Capabilities, rec.CredentialVersion,
		rec.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("saving identity: %w", err)
	}
	return nil
}

// ListIdentities returns all identity records.
func (s *SQLiteStore) ListIdentities(ctx context.Context) ([]*IdentityRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, capabilities, credential_version, created_at FROM identities`)
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}
	defer rows.Close()

	var recs []*IdentityRecord
	for rows.Next() {
		var rec IdentityRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.DisplayName, &rec.Capabilities,
			&rec.CredentialVersion, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// SaveChannel upserts a channel record.
func (s *SQLiteStore) SaveChannel(ctx context.Context, rec *ChannelRecord) error {
	query := `
		INSERT INTO channels (id, name, kind, topic, metadata, rules, default_access, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			topic = excluded.topic,
			metadata = excluded.metadata,
			rules = excluded.rules,
			default_access = excluded.default_access
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.Kind, rec.Topic, rec.Metadata, rec.Rules,
		rec.DefaultAccess, rec.CreatedBy, rec.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("saving channel: %w", err)
	}
	return nil
}

// DeleteChannel removes a channel record.
func (s *SQLiteStore) DeleteChannel(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting channel: %w", err)
	}
	return nil
}

// ListChannels returns all channel records.
func (s *SQLiteStore) ListChannels(ctx context.Context) ([]*ChannelRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kind, topic, metadata, rules, default_access, created_by, created_at FROM channels`)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	defer rows.Close()

	var recs []*ChannelRecord
	for rows.Next() {
		var rec ChannelRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Kind, &rec.Topic, &rec.Metadata,
			&rec.Rules, &rec.DefaultAccess, &rec.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// SaveMembership upserts a membership record. Idempotent by primary key.
func (s *SQLiteStore) SaveMembership(ctx context.Context, rec *MembershipRecord) error {
	query := `
		INSERT OR IGNORE INTO memberships (channel_id, identity_id, joined_at)
		VALUES (?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ChannelID, rec.IdentityID, rec.JoinedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("saving membership: %w", err)
	}
	return nil
}

// DeleteMembership removes a single membership. Idempotent.
func (s *SQLiteStore) DeleteMembership(ctx context.Context, channelID, identityID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memberships WHERE channel_id = ? AND identity_id = ?`, channelID, identityID)
	if err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}
	return nil
}

// DeleteChannelMemberships removes all memberships of a channel.
func (s *SQLiteStore) DeleteChannelMemberships(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memberships WHERE channel_id = ?`, channelID)
	if err != nil {
		return fmt.Errorf("deleting channel memberships: %w", err)
	}
	return nil
}

// ListMemberships returns all membership records.
func (s *SQLiteStore) ListMemberships(ctx context.Context) ([]*MembershipRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, identity_id, joined_at FROM memberships`)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	var recs []*MembershipRecord
	for rows.Next() {
		var rec MembershipRecord
		var joinedAt string
		if err := rows.Scan(&rec.ChannelID, &rec.IdentityID, &joinedAt); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		rec.JoinedAt, _ = time.Parse(timeFormat, joinedAt)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// SaveMessage upserts a message record. Edits and deletes rewrite the row.
func (s *SQLiteStore) SaveMessage(ctx context.Context, rec *MessageRecord) error {
	query := `
		INSERT INTO messages (id, target_id, target_kind, sender_id, text, data, mentions,
			thread_id, signature, delivery, sent_at, edited_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			mentions = excluded.mentions,
			signature = excluded.signature,
			delivery = excluded.delivery,
			edited_at = excluded.edited_at,
			deleted_at = excluded.deleted_at
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.TargetID, rec.TargetKind, rec.SenderID, rec.Text, rec.Data,
		rec.Mentions, rec.ThreadID, rec.Signature, rec.Delivery,
		rec.SentAt.UTC().Format(timeFormat),
		formatOptionalTime(rec.EditedAt), formatOptionalTime(rec.DeletedAt))
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

// GetMessage returns a single message record, or ErrNotFound.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*MessageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target_id, target_kind, sender_id, text, data, mentions,
			thread_id, signature, delivery, sent_at, edited_at, deleted_at
		FROM messages WHERE id = ?`, id)
	rec, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}
	return rec, nil
}

// ListChannelMessages returns a channel's messages, newest first.
func (s *SQLiteStore) ListChannelMessages(ctx context.Context, channelID string, limit int) ([]*MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_id, target_kind, sender_id, text, data, mentions,
			thread_id, signature, delivery, sent_at, edited_at, deleted_at
		FROM messages
		WHERE target_id = ? AND target_kind = 'channel' AND deleted_at IS NULL
		ORDER BY sent_at DESC, id DESC
		LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing channel messages: %w", err)
	}
	defer rows.Close()

	var recs []*MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SavePresence upserts a presence snapshot.
func (s *SQLiteStore) SavePresence(ctx context.Context, rec *PresenceRecord) error {
	query := `
		INSERT INTO presence (identity_id, state, status_message, activity, active_channels, last_heartbeat_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity_id) DO UPDATE SET
			state = excluded.state,
			status_message = excluded.status_message,
			activity = excluded.activity,
			active_channels = excluded.active_channels,
			last_heartbeat_at = excluded.last_heartbeat_at
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.IdentityID, rec.State, rec.StatusMessage, rec.Activity,
		rec.ActiveChannels, rec.LastHeartbeatAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("saving presence: %w", err)
	}
	return nil
}

// DeletePresence removes a presence snapshot. Idempotent.
func (s *SQLiteStore) DeletePresence(ctx context.Context, identityID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM presence WHERE identity_id = ?`, identityID); err != nil {
		return fmt.Errorf("deleting presence: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (*MessageRecord, error) {
	var rec MessageRecord
	var sentAt string
	var editedAt, deletedAt sql.NullString
	if err := sc.Scan(&rec.ID, &rec.TargetID, &rec.TargetKind, &rec.SenderID,
		&rec.Text, &rec.Data, &rec.Mentions, &rec.ThreadID, &rec.Signature,
		&rec.Delivery, &sentAt, &editedAt, &deletedAt); err != nil {
		return nil, err
	}
	rec.SentAt, _ = time.Parse(timeFormat, sentAt)
	rec.EditedAt = parseOptionalTime(editedAt)
	rec.DeletedAt = parseOptionalTime(deletedAt)
	return &rec, nil
}

func formatOptionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func parseOptionalTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeFormat, s.String)
	if err != nil {
		return nil
	}
	return &t
}
