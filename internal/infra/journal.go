package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const journalDBName = "journal.db"

var errJournalClosed = errors.New("journal closed")

// EncryptedJournal implements domain.SuspensionJournal using a SQLCipher
// encrypted SQLite database. Rows outlive a crashed daemon so the next start
// can resume whatever it left stopped.
type EncryptedJournal struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// NewEncryptedJournal opens (or creates) the journal in dataDir.
// The key is used as the SQLCipher passphrase.
func NewEncryptedJournal(dataDir string, key []byte) (*EncryptedJournal, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, journalDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// Timer callbacks write concurrently; one connection keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	j := &EncryptedJournal{db: db, dbPath: dbPath}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal tables: %w", err)
	}
	return j, nil
}

// OpenJournal loads (or creates) the key in dataDir and opens the journal with it.
func OpenJournal(dataDir string) (*EncryptedJournal, error) {
	key, err := EnsureKey(NewFileKeyProvider(dataDir))
	if err != nil {
		return nil, fmt.Errorf("journal key: %w", err)
	}
	return NewEncryptedJournal(dataDir, key)
}

func (j *EncryptedJournal) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS suspended (
		pid INTEGER PRIMARY KEY,
		bundle_id TEXT NOT NULL DEFAULT '',
		suspended_at INTEGER NOT NULL
	);
	`
	_, err := j.db.Exec(schema)
	return err
}

func (j *EncryptedJournal) conn() (*sql.DB, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil, errJournalClosed
	}
	return j.db, nil
}

// MarkSuspended records a paused pid, replacing any older record for it.
func (j *EncryptedJournal) MarkSuspended(p domain.SuspendedProcess) error {
	db, err := j.conn()
	if err != nil {
		return err
	}
	at := p.SuspendedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err = db.Exec(`INSERT OR REPLACE INTO suspended (pid, bundle_id, suspended_at) VALUES (?, ?, ?)`,
		p.PID, p.BundleID, at.Unix())
	return err
}

// MarkResumed forgets pid. Unknown pids are ignored.
func (j *EncryptedJournal) MarkResumed(pid int) error {
	db, err := j.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec(`DELETE FROM suspended WHERE pid = ?`, pid)
	return err
}

// Suspended lists recorded pids, oldest first.
func (j *EncryptedJournal) Suspended() ([]domain.SuspendedProcess, error) {
	db, err := j.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(`SELECT pid, bundle_id, suspended_at FROM suspended ORDER BY suspended_at, pid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SuspendedProcess
	for rows.Next() {
		var p domain.SuspendedProcess
		var at int64
		if err := rows.Scan(&p.PID, &p.BundleID, &at); err != nil {
			return nil, err
		}
		p.SuspendedAt = time.Unix(at, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Clear removes every record.
func (j *EncryptedJournal) Clear() error {
	db, err := j.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec(`DELETE FROM suspended`)
	return err
}

// Path returns the database file path.
func (j *EncryptedJournal) Path() string {
	return j.dbPath
}

// Close releases the database connection. Later calls fail with errJournalClosed.
func (j *EncryptedJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Ensure EncryptedJournal implements domain.SuspensionJournal.
var _ domain.SuspensionJournal = (*EncryptedJournal)(nil)
