// Package candidate defines the units of retrievable context proposed by
// providers, one variant per source sharing a common Base.
package candidate

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
	"github.com/danielpatrickdp/companion-pipeline/internal/redact"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
)

// Source tags which provider produced a candidate.
type Source string

const (
	SourceScripture      Source = "scripture"
	SourceArtifact       Source = "artifact"
	SourceMemory         Source = "memory"
	SourceLifeContext    Source = "life_context"
	SourceReadingSession Source = "reading_session"
	SourceSystem         Source = "system"
)

// #region features

// Features are the numeric signals Rank scores on. Nil means "not computed".
type Features struct {
	SemanticScore *float64 `json:"semantic_score,omitempty"`
	RecencyScore  *float64 `json:"recency_score,omitempty"`
	TemporalScore *float64 `json:"temporal_score,omitempty"`
	ScopeScore    *float64 `json:"scope_score,omitempty"`
	CreatedAt     string   `json:"created_at,omitempty"` // RFC3339
}

// Score returns a pointer to v.
func Score(v float64) *float64 { return &v }

// Value returns *p, or def when p is nil.
func Value(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// Created parses CreatedAt.
func (f Features) Created() (time.Time, bool) {
	if f.CreatedAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, f.CreatedAt)
	return t, err == nil
}

// RecencyHalfLife is the decay constant of Recency.
const RecencyHalfLife = 30 * 24 * time.Hour

// Recency is exp(-age/30d): 1 for brand new content, about 0.37 at 30 days.
func Recency(created, now time.Time) float64 {
	age := now.Sub(created)
	if age < 0 {
		age = 0
	}
	return math.Exp(-age.Hours() / RecencyHalfLife.Hours())
}

// #endregion features

// #region candidate

// Candidate is the polymorphic context unit.
type Candidate interface {
	Meta() *Base
	// Content is the full text rendered into the prompt and used for token estimates.
	Content() string
}

// Base is shared by every variant.
type Base struct {
	ID       string   `json:"id"`
	Source   Source   `json:"source"`
	Label    string   `json:"label"`
	Preview  string   `json:"preview"`
	Features Features `json:"features"`
}

func (b *Base) Meta() *Base { return b }

func newBase(id string, src Source, label, text string) Base {
	return Base{ID: id, Source: src, Label: label, Preview: redact.Preview(text)}
}

// #endregion candidate

// #region variants

// Scripture is a detected verse/chapter reference, with resolved text when available.
type Scripture struct {
	Base
	Ref runctx.EntityRef `json:"ref"`
}

func NewScripture(ref runctx.EntityRef) *Scripture {
	text := ref.Reference
	if ref.Text != "" {
		text += " " + ref.Text
	}
	c := &Scripture{Base: newBase("scripture:"+ref.Locator(), SourceScripture, ref.Reference, text), Ref: ref}
	c.Features.ScopeScore = Score(1)
	return c
}

func (c *Scripture) Content() string {
	if c.Ref.Text == "" {
		return c.Ref.Reference
	}
	return c.Ref.Reference + ": " + c.Ref.Text
}

// Artifact is a personal artifact: highlight, note, session summary, journal entry, prayer or reflection.
type Artifact struct {
	Base
	ArtifactID string            `json:"artifact_id"`
	Type       plan.ArtifactType `json:"type"`
	Title      string            `json:"title,omitempty"`
	Body       string            `json:"-"`
	VerseRef   string            `json:"verse_ref,omitempty"`
	BookID     string            `json:"book_id,omitempty"`
	Chapter    int               `json:"chapter,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewArtifact builds an artifact candidate. Every provider uses the same id
// scheme so the same artifact found twice collides and merges.
func NewArtifact(id string, typ plan.ArtifactType, title, body, verseRef string, created time.Time) *Artifact {
	label := string(typ)
	if verseRef != "" {
		label += " " + verseRef
	} else if title != "" {
		label += ": " + title
	}
	c := &Artifact{
		Base:       newBase("artifact:"+id, SourceArtifact, label, body),
		ArtifactID: id,
		Type:       typ,
		Title:      title,
		Body:       body,
		VerseRef:   verseRef,
		CreatedAt:  created.UTC(),
	}
	c.Features.CreatedAt = c.CreatedAt.Format(time.RFC3339Nano)
	return c
}

func (c *Artifact) Content() string {
	var b strings.Builder
	if c.VerseRef != "" {
		b.WriteString(c.VerseRef + ": ")
	}
	if c.Title != "" {
		b.WriteString(c.Title + ". ")
	}
	b.WriteString(c.Body)
	return b.String()
}

// Memory is a durable fact about the user.
type Memory struct {
	Base
	MemoryID string  `json:"memory_id"`
	Kind     string  `json:"kind"`
	Key      string  `json:"key"`
	Value    string  `json:"-"`
	Strength float64 `json:"strength"`
}

func NewMemory(m runctx.DurableMemory) *Memory {
	c := &Memory{
		Base:     newBase("memory:"+m.ID, SourceMemory, m.Kind+": "+m.Key, m.Value),
		MemoryID: m.ID, Kind: m.Kind, Key: m.Key, Value: m.Value, Strength: m.Strength,
	}
	if !m.UpdatedAt.IsZero() {
		c.Features.CreatedAt = m.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return c
}

func (c *Memory) Content() string { return c.Key + ": " + c.Value }

// LifeContext is what the user is currently going through.
type LifeContext struct {
	Base
	Context runctx.LifeContext `json:"-"`
}

func NewLifeContext(lc runctx.LifeContext) *LifeContext {
	c := &LifeContext{Context: lc}
	c.Base = newBase("life_context:current", SourceLifeContext, "life context", c.Content())
	return c
}

func (c *LifeContext) Content() string {
	var parts []string
	if c.Context.Season != "" {
		parts = append(parts, "Season: "+c.Context.Season)
	}
	if c.Context.Summary != "" {
		parts = append(parts, c.Context.Summary)
	}
	if len(c.Context.Themes) > 0 {
		parts = append(parts, "Themes: "+strings.Join(c.Context.Themes, ", "))
	}
	if len(c.Context.RecentEvents) > 0 {
		parts = append(parts, "Recent: "+strings.Join(c.Context.RecentEvents, "; "))
	}
	return strings.Join(parts, "\n")
}

// ReadingSession is one past reading session.
type ReadingSession struct {
	Base
	SessionID   string    `json:"session_id"`
	BookID      string    `json:"book_id"`
	BookName    string    `json:"book_name"`
	Chapter     int       `json:"chapter"`
	StartedAt   time.Time `json:"started_at"`
	DurationSec int       `json:"duration_sec"`
	TimesRead   int       `json:"times_read,omitempty"`
}

func NewReadingSession(id, bookID, bookName string, chapter int, started time.Time, durationSec, timesRead int) *ReadingSession {
	c := &ReadingSession{
		SessionID: id, BookID: bookID, BookName: bookName, Chapter: chapter,
		StartedAt: started.UTC(), DurationSec: durationSec, TimesRead: timesRead,
	}
	c.Base = newBase("reading_session:"+id, SourceReadingSession, fmt.Sprintf("%s %d", bookName, chapter), c.Content())
	c.Features.CreatedAt = c.StartedAt.Format(time.RFC3339Nano)
	return c
}

func (c *ReadingSession) Content() string {
	s := fmt.Sprintf("Read %s %d on %s", c.BookName, c.Chapter, c.StartedAt.Format("Mon Jan 2"))
	if c.DurationSec > 0 {
		s += fmt.Sprintf(" for %d min", (c.DurationSec+59)/60)
	}
	if c.TimesRead > 1 {
		s += fmt.Sprintf(" (read %d times)", c.TimesRead)
	}
	return s
}

// System echoes the plan into the candidate list for trace readability.
type System struct {
	Base
	Mode  plan.ResponseMode `json:"mode"`
	Needs []plan.Need       `json:"needs"`
}

func NewSystem(p *plan.Plan) *System {
	c := &System{Mode: p.Response.Mode, Needs: append([]plan.Need(nil), p.Retrieval.Needs...)}
	c.Base = newBase("system:plan", SourceSystem, "plan", c.Content())
	return c
}

func (c *System) Content() string {
	needs := make([]string, len(c.Needs))
	for i, n := range c.Needs {
		needs[i] = string(n)
	}
	return fmt.Sprintf("response_mode=%s needs=[%s]", c.Mode, strings.Join(needs, ","))
}

// #endregion variants
