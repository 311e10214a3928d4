// Package chatdb provides read-only access to the macOS Messages database
// (~/Library/Messages/chat.db). The store is owned and written by the
// Messages app; this package opens a fresh read-only connection per poll
// cycle to avoid file-lock contention with the primary writer.
package chatdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/nightline/iphone-bridge/internal/bridge/domain"
)

// ErrStoreMissing is returned by Open when the database file does not exist
// yet. Callers treat it as transient: the Messages app may not have run, or
// Full Disk Access may not have been granted.
var ErrStoreMissing = errors.New("chat database not found")

// Store locates the chat database and opens per-cycle connections to it.
type Store struct {
	path    string
	homeDir string
	logger  *slog.Logger
}

// NewStore creates a Store for the database at path.
func NewStore(path string, logger *slog.Logger) *Store {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return &Store{
		path:    path,
		homeDir: home,
		logger:  logger.With("component", "chatdb"),
	}
}

// Path returns the configured database path.
func (s *Store) Path() string {
	return s.path
}

// Open opens a read-only connection to the database. The caller must close
// it before the poll cycle ends.
func (s *Store) Open() (*Conn, error) {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrStoreMissing, s.path)
		}
		return nil, fmt.Errorf("failed to stat chat database: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+s.path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open chat database: %w", err)
	}
	// One connection per cycle; never pool across cycles.
	db.SetMaxOpenConns(1)

	return &Conn{db: db, homeDir: s.homeDir, logger: s.logger}, nil
}

// Conn is a single read-only connection to chat.db, valid for one poll cycle.
type Conn struct {
	db      *sql.DB
	homeDir string
	logger  *slog.Logger
}

// Close releases the underlying connection.
func (c *Conn) Close() error {
	return c.db.Close()
}

// MaxRowID returns the highest message ROWID, or 0 for an empty store.
func (c *Conn) MaxRowID(ctx context.Context) (int64, error) {
	var max int64
	err := c.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(ROWID), 0) FROM message`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to query max ROWID: %w", err)
	}
	return max, nil
}

// NewMessages returns messages with ROWID > afterRowID that have text or
// attachments, in ascending ROWID order, capped at limit. Rows that fail to
// scan are logged and skipped rather than aborting the batch.
func (c *Conn) NewMessages(ctx context.Context, afterRowID int64, limit int) ([]domain.InboundMessage, error) {
	const query = `
		SELECT
			m.ROWID,
			m.guid,
			m.text,
			m.date,
			m.is_from_me,
			m.service,
			m.cache_has_attachments,
			h.id AS handle_id
		FROM message m
		LEFT JOIN handle h ON m.handle_id = h.ROWID
		WHERE m.ROWID > ?
		  AND (
		      (m.text IS NOT NULL AND m.text != '')
		      OR m.cache_has_attachments = 1
		  )
		ORDER BY m.ROWID ASC
		LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query, afterRowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query new messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.InboundMessage
	for rows.Next() {
		var (
			rowID          int64
			guid           sql.NullString
			text           sql.NullString
			date           int64
			isFromMe       int64
			service        sql.NullString
			hasAttachments int64
			handle         sql.NullString
		)
		if err := rows.Scan(&rowID, &guid, &text, &date, &isFromMe, &service, &hasAttachments, &handle); err != nil {
			c.logger.WarnContext(ctx, "Failed to scan message row, skipping", "error", err)
			continue
		}

		phone := handle.String
		if phone == "" {
			phone = "unknown"
		}

		msg := domain.InboundMessage{
			RowID:      rowID,
			GUID:       guid.String,
			Phone:      domain.NormalizePhone(phone),
			Text:       text.String,
			ReceivedAt: domain.FromAppleTime(date),
			IsFromMe:   isFromMe != 0,
			Channel:    domain.ChannelFromService(service.String),
		}

		if hasAttachments != 0 {
			attachments, err := c.Attachments(ctx, rowID)
			if err != nil {
				c.logger.WarnContext(ctx, "Failed to fetch attachments", "error", err, "rowid", rowID)
			} else {
				msg.Attachments = attachments
			}
		}

		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return messages, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// Attachments returns the attachments joined to the given message ROWID, in
// the order the store returns them.
func (c *Conn) Attachments(ctx context.Context, messageRowID int64) ([]domain.Attachment, error) {
	const query = `
		SELECT
			a.filename,
			a.mime_type,
			a.total_bytes,
			a.transfer_name
		FROM attachment a
		INNER JOIN message_attachment_join maj ON a.ROWID = maj.attachment_id
		WHERE maj.message_id = ?`

	rows, err := c.db.QueryContext(ctx, query, messageRowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var attachments []domain.Attachment
	for rows.Next() {
		var (
			filename     sql.NullString
			mimeType     sql.NullString
			totalBytes   sql.NullInt64
			transferName sql.NullString
		)
		if err := rows.Scan(&filename, &mimeType, &totalBytes, &transferName); err != nil {
			c.logger.WarnContext(ctx, "Failed to scan attachment row, skipping", "error", err, "message_rowid", messageRowID)
			continue
		}
		if filename.String == "" {
			continue
		}

		mime := mimeType.String
		if mime == "" {
			mime = "application/octet-stream"
		}

		attachments = append(attachments, domain.Attachment{
			Filename:     filepath.Base(filename.String),
			Path:         c.expandHome(filename.String),
			MimeType:     mime,
			SizeBytes:    totalBytes.Int64,
			TransferName: transferName.String,
		})
	}
	if err := rows.Err(); err != nil {
		return attachments, fmt.Errorf("error iterating attachment rows: %w", err)
	}
	return attachments, nil
}

// OutgoingRow is an own-message row considered during status resolution.
type OutgoingRow struct {
	GUID          string
	Handle        string
	Date          int64
	DateDelivered int64
	DateRead      int64
}

// OutgoingBetween returns own-message rows with a send date inside
// [from, to], newest first, capped at limit.
func (c *Conn) OutgoingBetween(ctx context.Context, from, to int64, limit int) ([]OutgoingRow, error) {
	const query = `
		SELECT
			m.guid,
			h.id AS handle_id,
			m.date,
			m.date_delivered,
			m.date_read
		FROM message m
		LEFT JOIN handle h ON m.handle_id = h.ROWID
		WHERE m.is_from_me = 1
		  AND m.date >= ?
		  AND m.date <= ?
		ORDER BY m.date DESC
		LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outgoing messages: %w", err)
	}
	defer rows.Close()

	var out []OutgoingRow
	for rows.Next() {
		var (
			guid      sql.NullString
			handle    sql.NullString
			date      sql.NullInt64
			delivered sql.NullInt64
			read      sql.NullInt64
		)
		if err := rows.Scan(&guid, &handle, &date, &delivered, &read); err != nil {
			c.logger.WarnContext(ctx, "Failed to scan outgoing row, skipping", "error", err)
			continue
		}
		out = append(out, OutgoingRow{
			GUID:          guid.String,
			Handle:        handle.String,
			Date:          date.Int64,
			DateDelivered: delivered.Int64,
			DateRead:      read.Int64,
		})
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("error iterating outgoing rows: %w", err)
	}
	return out, nil
}

// Receipt holds the delivery/read timestamps currently recorded for a sent
// message. Zero means not (yet) set.
type Receipt struct {
	GUID          string
	DateDelivered int64
	DateRead      int64
}

// Receipts returns current receipt timestamps for the given GUIDs in a
// single batch query.
func (c *Conn) Receipts(ctx context.Context, guids []string) ([]Receipt, error) {
	if len(guids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(guids))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(`
		SELECT guid, date_delivered, date_read
		FROM message
		WHERE guid IN (%s)
		  AND is_from_me = 1`, placeholders)

	args := make([]any, len(guids))
	for i, g := range guids {
		args[i] = g
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		var (
			guid      string
			delivered sql.NullInt64
			read      sql.NullInt64
		)
		if err := rows.Scan(&guid, &delivered, &read); err != nil {
			c.logger.WarnContext(ctx, "Failed to scan receipt row, skipping", "error", err)
			continue
		}
		receipts = append(receipts, Receipt{
			GUID:          guid,
			DateDelivered: delivered.Int64,
			DateRead:      read.Int64,
		})
	}
	if err := rows.Err(); err != nil {
		return receipts, fmt.Errorf("error iterating receipt rows: %w", err)
	}
	return receipts, nil
}

// expandHome turns the store's ~-relative attachment paths into absolute
// paths.
func (c *Conn) expandHome(path string) string {
	if strings.HasPrefix(path, "~") && c.homeDir != "" {
		return filepath.Join(c.homeDir, strings.TrimPrefix(path[1:], string(filepath.Separator)))
	}
	return path
}
