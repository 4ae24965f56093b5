package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// #region types

// ReadingSession is one recorded reading of a chapter.
type ReadingSession struct {
	ID          string `db:"id"`
	UserID      string `db:"user_id"`
	BookID      string `db:"book_id"`
	BookName    string `db:"book_name"`
	Chapter     int    `db:"chapter"`
	StartedAt   string `db:"started_at"`
	DurationSec int    `db:"duration_sec"`
}

// Started returns the parsed start time.
func (r ReadingSession) Started() time.Time { return ParseTime(r.StartedAt) }

// ChapterRollup counts how often a user has read a chapter.
type ChapterRollup struct {
	UserID     string `db:"user_id"`
	BookID     string `db:"book_id"`
	Chapter    int    `db:"chapter"`
	TimesRead  int    `db:"times_read"`
	LastReadAt string `db:"last_read_at"`
}

// ReadingFilter narrows ListReadingSessions.
type ReadingFilter struct {
	UserID   string
	From, To time.Time
	BookID   string
	Chapter  int
	Limit    int
}

// #endregion types

// #region writes

// RecordReadingSession inserts a session and bumps its chapter rollup in one transaction.
func (db *DB) RecordReadingSession(ctx context.Context, r *ReadingSession) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt == "" {
		r.StartedAt = FormatTime(time.Now())
	}

	tx, err := db.x.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO reading_sessions
		(id, user_id, book_id, book_name, chapter, started_at, duration_sec)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.UserID, r.BookID, r.BookName, r.Chapter, r.StartedAt, r.DurationSec)
	if err != nil {
		return fmt.Errorf("insert reading session: %w", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO chapter_rollups
		(user_id, book_id, chapter, times_read, last_read_at) VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (user_id, book_id, chapter) DO UPDATE SET
			times_read = chapter_rollups.times_read + 1,
			last_read_at = CASE WHEN excluded.last_read_at > chapter_rollups.last_read_at
				THEN excluded.last_read_at ELSE chapter_rollups.last_read_at END`),
		r.UserID, r.BookID, r.Chapter, r.StartedAt)
	if err != nil {
		return fmt.Errorf("bump chapter rollup: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion writes

// #region reads

// ListReadingSessions returns sessions matching f, newest first.
func (db *DB) ListReadingSessions(ctx context.Context, f ReadingFilter) ([]ReadingSession, error) {
	var w where
	w.add("user_id = ?", f.UserID)
	if !f.From.IsZero() {
		w.add("started_at >= ?", FormatTime(f.From))
	}
	if !f.To.IsZero() {
		w.add("started_at < ?", FormatTime(f.To))
	}
	if f.BookID != "" {
		w.add("book_id = ?", f.BookID)
	}
	if f.Chapter > 0 {
		w.add("chapter = ?", f.Chapter)
	}
	query := "SELECT * FROM reading_sessions" + w.sql() + " ORDER BY started_at DESC"
	args := w.args
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	q, a, err := db.build(query, args)
	if err != nil {
		return nil, err
	}
	var out []ReadingSession
	if err := db.x.SelectContext(ctx, &out, q, a...); err != nil {
		return nil, fmt.Errorf("list reading sessions: %w", err)
	}
	return out, nil
}

// ChapterRollups returns the user's rollups for one book, keyed by chapter.
func (db *DB) ChapterRollups(ctx context.Context, userID, bookID string) (map[int]ChapterRollup, error) {
	var rows []ChapterRollup
	err := db.x.SelectContext(ctx, &rows,
		db.x.Rebind(`SELECT * FROM chapter_rollups WHERE user_id = ? AND book_id = ?`), userID, bookID)
	if err != nil {
		return nil, fmt.Errorf("list chapter rollups: %w", err)
	}
	out := make(map[int]ChapterRollup, len(rows))
	for _, r := range rows {
		out[r.Chapter] = r
	}
	return out, nil
}

// #endregion reads
