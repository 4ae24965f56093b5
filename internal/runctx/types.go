package runctx

import (
	"strconv"
	"time"
)

// #region enums

// Mode selects production or debug execution.
type Mode string

const (
	ModeProd  Mode = "prod"
	ModeDebug Mode = "debug"
)

// SideEffectPolicy controls whether the Side-Effect Gateway may mutate shared state.
type SideEffectPolicy string

const (
	SideEffectsEnabled  SideEffectPolicy = "enabled"
	SideEffectsDisabled SideEffectPolicy = "disabled"
)

// WritePolicy controls whether storage writes outside the trace are allowed.
type WritePolicy string

const (
	WritesAllow  WritePolicy = "allow"
	WritesForbid WritePolicy = "forbid"
)

// Entrypoint identifies how the request entered the pipeline.
type Entrypoint string

const (
	EntrypointChat         Entrypoint = "chat"
	EntrypointGroupChat    Entrypoint = "group_chat"
	EntrypointSessionStart Entrypoint = "session_start"
)

// IsSessionStart reports whether the message is a synthetic session-opening message.
func (e Entrypoint) IsSessionStart() bool {
	return e == EntrypointSessionStart
}

// EntityType is the kind of scripture reference.
type EntityType string

const (
	EntityVerse   EntityType = "verse"
	EntityChapter EntityType = "chapter"
	EntityBook    EntityType = "book"
	EntityTheme   EntityType = "theme"
)

// #endregion enums

// #region entity-ref

// EntityRef is a typed reference with a canonical reference string, e.g. "Romans 8:28".
type EntityRef struct {
	Type       EntityType `json:"type"`
	Reference  string     `json:"reference"`
	BookID     string     `json:"book_id,omitempty"`
	BookName   string     `json:"book_name,omitempty"`
	Chapter    int        `json:"chapter,omitempty"`
	VerseStart int        `json:"verse_start,omitempty"`
	VerseEnd   int        `json:"verse_end,omitempty"`
	Text       string     `json:"text,omitempty"`
}

// Locator returns the stable locator used in candidate ids ("ROM.8.28").
func (e EntityRef) Locator() string {
	switch {
	case e.Type == EntityTheme:
		return "theme." + e.Reference
	case e.VerseStart > 0 && e.VerseEnd > e.VerseStart:
		return e.BookID + "." + strconv.Itoa(e.Chapter) + "." + strconv.Itoa(e.VerseStart) + "-" + strconv.Itoa(e.VerseEnd)
	case e.VerseStart > 0:
		return e.BookID + "." + strconv.Itoa(e.Chapter) + "." + strconv.Itoa(e.VerseStart)
	case e.Chapter > 0:
		return e.BookID + "." + strconv.Itoa(e.Chapter)
	default:
		return e.BookID
	}
}

// #endregion entity-ref

// #region conversation

// ConversationTurn is one prior message in the conversation.
type ConversationTurn struct {
	Role    string    `json:"role"` // "user" | "assistant"
	Content string    `json:"content"`
	At      time.Time `json:"at,omitempty"`
}

// #endregion conversation

// #region ai-context

// AIContext is context precomputed by the host before the run starts.
type AIContext struct {
	LifeContext *LifeContext    `json:"life_context,omitempty"`
	Memories    []DurableMemory `json:"memories,omitempty"`
}

// LifeContext summarizes what the user is currently going through.
type LifeContext struct {
	Season       string    `json:"season,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	Themes       []string  `json:"themes,omitempty"`
	RecentEvents []string  `json:"recent_events,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// DurableMemory is a long-term fact about the user.
type DurableMemory struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Strength  float64   `json:"strength"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// #endregion ai-context

// #region app-meta

// AppMeta describes the client that issued the request.
type AppMeta struct {
	AppVersion string `json:"app_version,omitempty"`
	Platform   string `json:"platform,omitempty"`
	Locale     string `json:"locale,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

// #endregion app-meta
