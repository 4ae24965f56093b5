package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Artifact statuses and visibilities.
const (
	StatusActive    = "active"
	StatusArchived  = "archived"
	StatusDeleted   = "deleted"
	VisibilityPriv  = "private"
	VisibilityGroup = "group"
)

// #region types

// UserArtifact is a personal artifact row.
type UserArtifact struct {
	ID         string `db:"id"`
	UserID     string `db:"user_id"`
	Type       string `db:"type"`
	Status     string `db:"status"`
	Visibility string `db:"visibility"`
	Title      string `db:"title"`
	Body       string `db:"body"`
	VerseRef   string `db:"verse_ref"`
	BookID     string `db:"book_id"`
	Chapter    int    `db:"chapter"`
	Embedding  string `db:"embedding"` // JSON []float32, "" when not embedded
	CreatedAt  string `db:"created_at"`
	UpdatedAt  string `db:"updated_at"`
}

// Created returns the parsed creation time.
func (a UserArtifact) Created() time.Time { return ParseTime(a.CreatedAt) }

// Vector decodes the stored embedding.
func (a UserArtifact) Vector() []float32 {
	if a.Embedding == "" {
		return nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(a.Embedding), &v); err != nil {
		return nil
	}
	return v
}

// SetVector encodes v into Embedding.
func (a *UserArtifact) SetVector(v []float32) {
	if len(v) == 0 {
		a.Embedding = ""
		return
	}
	b, _ := json.Marshal(v)
	a.Embedding = string(b)
}

// ArtifactFilter narrows ListArtifacts. Zero values mean "no constraint",
// except Status which defaults to active.
type ArtifactFilter struct {
	UserID        string
	Types         []string
	Status        string
	Visibility    string
	From, To      time.Time // [From, To)
	BookID        string
	Chapter       int
	WithEmbedding bool
	OldestFirst   bool
	Limit         int
}

// #endregion types

// #region writes

// UpsertArtifact inserts or replaces an artifact by id. Missing id, status,
// visibility and timestamps are filled in.
func (db *DB) UpsertArtifact(ctx context.Context, a *UserArtifact) error {
	now := FormatTime(time.Now())
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	if a.Visibility == "" {
		a.Visibility = VisibilityPriv
	}
	if a.CreatedAt == "" {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	q := db.x.Rebind(`INSERT INTO user_artifacts
		(id, user_id, type, status, visibility, title, body, verse_ref, book_id, chapter, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type, status = excluded.status, visibility = excluded.visibility,
			title = excluded.title, body = excluded.body, verse_ref = excluded.verse_ref,
			book_id = excluded.book_id, chapter = excluded.chapter, embedding = excluded.embedding,
			updated_at = excluded.updated_at`)
	_, err := db.x.ExecContext(ctx, q,
		a.ID, a.UserID, a.Type, a.Status, a.Visibility, a.Title, a.Body, a.VerseRef,
		a.BookID, a.Chapter, a.Embedding, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert artifact: %w", err)
	}
	return nil
}

// #endregion writes

// #region reads

// GetArtifact returns one artifact by id.
func (db *DB) GetArtifact(ctx context.Context, id string) (UserArtifact, error) {
	var a UserArtifact
	err := db.x.GetContext(ctx, &a, db.x.Rebind(`SELECT * FROM user_artifacts WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return UserArtifact{}, ErrNotFound
	}
	if err != nil {
		return UserArtifact{}, fmt.Errorf("get artifact %s: %w", id, err)
	}
	return a, nil
}

// ListArtifacts returns artifacts matching f, newest first unless OldestFirst.
func (db *DB) ListArtifacts(ctx context.Context, f ArtifactFilter) ([]UserArtifact, error) {
	var w where
	w.add("user_id = ?", f.UserID)
	status := f.Status
	if status == "" {
		status = StatusActive
	}
	w.add("status = ?", status)
	if len(f.Types) > 0 {
		w.add("type IN (?)", f.Types)
	}
	if f.Visibility != "" {
		w.add("visibility = ?", f.Visibility)
	}
	if !f.From.IsZero() {
		w.add("created_at >= ?", FormatTime(f.From))
	}
	if !f.To.IsZero() {
		w.add("created_at < ?", FormatTime(f.To))
	}
	if f.BookID != "" {
		w.add("book_id = ?", f.BookID)
	}
	if f.Chapter > 0 {
		w.add("chapter = ?", f.Chapter)
	}
	if f.WithEmbedding {
		w.add("embedding <> ''")
	}

	order := " ORDER BY created_at DESC"
	if f.OldestFirst {
		order = " ORDER BY created_at ASC"
	}
	query := "SELECT * FROM user_artifacts" + w.sql() + order
	args := w.args
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	q, a, err := db.build(query, args)
	if err != nil {
		return nil, err
	}
	var out []UserArtifact
	if err := db.x.SelectContext(ctx, &out, q, a...); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return out, nil
}

// #endregion reads
