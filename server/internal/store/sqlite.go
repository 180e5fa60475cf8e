package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"

	"github.com/airscribe/airscribe/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is an Archive backed by a single SQLite file. The database is
// opened lazily on first use.
type SQLite struct {
	path string

	once    sync.Once
	db      *sql.DB
	insert  *sql.Stmt
	openErr error

	closeOnce sync.Once
	closeErr  error
}

// NewSQLite returns an archive writing to path.
func NewSQLite(path string) *SQLite {
	return &SQLite{path: path}
}

func (a *SQLite) open() (*sql.DB, error) {
	a.once.Do(func() {
		db, err := sql.Open("sqlite3", "file:"+a.path+"?_journal_mode=WAL&_synchronous=NORMAL")
		if err != nil {
			a.openErr = fmt.Errorf("opening database: %w", err)
			return
		}
		if _, err = db.Exec(schemaSQL); err != nil {
			a.openErr = multierr.Append(fmt.Errorf("initialising schema: %w", err), db.Close())
			return
		}
		stmt, err := db.Prepare(insertPredictionSQL)
		if err != nil {
			a.openErr = multierr.Append(fmt.Errorf("preparing statement: %w", err), db.Close())
			return
		}
		a.db, a.insert = db, stmt
	})
	return a.db, a.openErr
}

const insertPredictionSQL = `
INSERT OR REPLACE INTO predictions
    (id, source, character, confidence, class_index, data_points, session_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// Save implements Archive.
func (a *SQLite) Save(p types.Prediction) error {
	if _, err := a.open(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	_, err := a.insert.Exec(
		p.ID, p.Source, p.Character, p.Confidence, p.ClassIndex,
		p.DataPoints, p.SessionID, p.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: inserting prediction: %w", err)
	}
	return nil
}

const selectRecentSQL = `
SELECT id, source, character, confidence, class_index, data_points, session_id, created_at
FROM predictions
ORDER BY created_at DESC, id DESC
LIMIT ?`

// Recent implements Archive. Predictions are returned newest first.
// A limit <= 0 returns all rows.
func (a *SQLite) Recent(limit int) (preds []types.Prediction, err error) {
	db, err := a.open()
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.Query(selectRecentSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("store: querying predictions: %w", err)
	}
	defer func() {
		err = multierr.Append(err, rows.Close())
	}()

	for rows.Next() {
		var (
			p  types.Prediction
			ns int64
		)
		if err = rows.Scan(&p.ID, &p.Source, &p.Character, &p.Confidence, &p.ClassIndex,
			&p.DataPoints, &p.SessionID, &ns); err != nil {
			return nil, fmt.Errorf("store: scanning prediction: %w", err)
		}
		p.CreatedAt = time.Unix(0, ns).UTC()
		preds = append(preds, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating predictions: %w", err)
	}
	return preds, nil
}

// Close releases the statement and database handle.
func (a *SQLite) Close() error {
	a.closeOnce.Do(func() {
		if a.db == nil {
			return
		}
		a.closeErr = multierr.Combine(a.insert.Close(), a.db.Close())
	})
	return a.closeErr
}
