package app

import (
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightline/iphone-bridge/internal/bridge/repository/chatdb"
)

const fixtureSchema = `
CREATE TABLE message (
	ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
	guid TEXT,
	text TEXT,
	date INTEGER NOT NULL DEFAULT 0,
	date_delivered INTEGER NOT NULL DEFAULT 0,
	date_read INTEGER NOT NULL DEFAULT 0,
	is_from_me INTEGER NOT NULL DEFAULT 0,
	service TEXT,
	handle_id INTEGER,
	cache_has_attachments INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE handle (
	ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT
);
CREATE TABLE attachment (
	ROWID INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT,
	mime_type TEXT,
	total_bytes INTEGER,
	transfer_name TEXT
);
CREATE TABLE message_attachment_join (
	message_id INTEGER,
	attachment_id INTEGER
);`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixtureStore creates a chat.db-shaped database in a temp dir and returns
// a Store over it plus a writable handle for seeding rows.
func newFixtureStore(t *testing.T) (*chatdb.Store, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(fixtureSchema)
	require.NoError(t, err)

	return chatdb.NewStore(path, testLogger()), db
}

func insertHandle(t *testing.T, db *sql.DB, id string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO handle (id) VALUES (?)`, id)
	require.NoError(t, err)
	rowID, err := res.LastInsertId()
	require.NoError(t, err)
	return rowID
}

type fixtureMessage struct {
	guid          string
	text          string
	date          int64
	dateDelivered int64
	dateRead      int64
	isFromMe      bool
	service       string
	handleID      int64
}

func insertMessage(t *testing.T, db *sql.DB, m fixtureMessage) int64 {
	t.Helper()
	fromMe := 0
	if m.isFromMe {
		fromMe = 1
	}
	if m.service == "" {
		m.service = "iMessage"
	}
	res, err := db.Exec(
		`INSERT INTO message (guid, text, date, date_delivered, date_read, is_from_me, service, handle_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.guid, m.text, m.date, m.dateDelivered, m.dateRead, fromMe, m.service, m.handleID,
	)
	require.NoError(t, err)
	rowID, err := res.LastInsertId()
	require.NoError(t, err)
	return rowID
}
