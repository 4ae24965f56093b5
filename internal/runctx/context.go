package runctx

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-pipeline/internal/logging"
)

// #region input

// Input is everything the caller supplies to start a run. It is also the
// JSON snapshot stored in the INGRESS vault entry so a run can be replayed.
type Input struct {
	TraceID        string             `json:"trace_id"`
	UserID         string             `json:"user_id"`
	GroupID        string             `json:"group_id,omitempty"`
	Entrypoint     Entrypoint         `json:"entrypoint"`
	Message        string             `json:"message"`
	Entities       []EntityRef        `json:"entities,omitempty"`
	Mode           Mode               `json:"mode"`
	StopAtStage    string             `json:"stop_at_stage,omitempty"`
	SideEffects    *SideEffectPolicy  `json:"side_effects,omitempty"` // nil = mode default
	Writes         *WritePolicy       `json:"writes,omitempty"`       // nil = mode default
	App            AppMeta            `json:"app"`
	History        []ConversationTurn `json:"history,omitempty"`
	InitialContext string             `json:"initial_context,omitempty"`
	AIContext      *AIContext         `json:"ai_context,omitempty"`
	IsFirstMessage bool               `json:"is_first_message"`
	StartedAt      time.Time          `json:"started_at"`
}

// #endregion input

// #region run-context

// RunContext is the immutable per-request execution context. All fields are
// read through accessors; slices are copied on the way out.
type RunContext struct {
	in          Input
	runID       string
	requestID   string
	sideEffects SideEffectPolicy
	writes      WritePolicy
	startedAt   time.Time
	now         func() time.Time
	logger      *zap.Logger
}

// Option customizes construction.
type Option func(*options)

type options struct {
	logger *zap.Logger
	now    func() time.Time
}

// WithLogger sets the base logger the run logger derives from.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides time.Now, for tests and replay.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds a RunContext. No I/O: ids come from a random UUID generator and
// policies are resolved from the mode unless explicitly overridden.
func New(in Input, opts ...Option) *RunContext {
	o := options{logger: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if in.Mode == "" {
		in.Mode = ModeProd
	}
	if in.Entrypoint == "" {
		in.Entrypoint = EntrypointChat
	}
	if in.TraceID == "" {
		in.TraceID = uuid.NewString()
	}
	if in.StartedAt.IsZero() {
		in.StartedAt = o.now().UTC()
	}

	side, writes := SideEffectsEnabled, WritesAllow
	if in.Mode == ModeDebug {
		side, writes = SideEffectsDisabled, WritesForbid
	}
	if in.SideEffects != nil {
		side = *in.SideEffects
	}
	if in.Writes != nil {
		writes = *in.Writes
	}

	rc := &RunContext{
		in:          in,
		runID:       uuid.NewString(),
		requestID:   uuid.NewString(),
		sideEffects: side,
		writes:      writes,
		startedAt:   in.StartedAt,
		now:         o.now,
	}
	rc.logger = logging.ForRun(o.logger, in.TraceID, rc.runID, rc.requestID, in.UserID, string(in.Mode))
	return rc
}

// #endregion run-context

// #region accessors

func (rc *RunContext) TraceID() string { return rc.in.TraceID }
func (rc *RunContext) RunID() string { return rc.runID }
func (rc *RunContext) RequestID() string { return rc.requestID }
func (rc *RunContext) UserID() string { return rc.in.UserID }
func (rc *RunContext) GroupID() string { return rc.in.GroupID }
func (rc *RunContext) Entrypoint() Entrypoint { return rc.in.Entrypoint }
func (rc *RunContext) Message() string { return rc.in.Message }
func (rc *RunContext) Mode() Mode { return rc.in.Mode }
func (rc *RunContext) StopAtStage() string { return rc.in.StopAtStage }
func (rc *RunContext) SideEffects() SideEffectPolicy { return rc.sideEffects }
func (rc *RunContext) Writes() WritePolicy { return rc.writes }
func (rc *RunContext) App() AppMeta { return rc.in.App }
func (rc *RunContext) InitialContext() string { return rc.in.InitialContext }
func (rc *RunContext) IsFirstMessage() bool { return rc.in.IsFirstMessage }
func (rc *RunContext) StartedAt() time.Time { return rc.startedAt }
func (rc *RunContext) Logger() *zap.Logger { return rc.logger }

// Entities returns caller-supplied entity references.
func (rc *RunContext) Entities() []EntityRef {
	return append([]EntityRef(nil), rc.in.Entities...)
}

// History returns the prior conversation, oldest first.
func (rc *RunContext) History() []ConversationTurn {
	return append([]ConversationTurn(nil), rc.in.History...)
}

// AIContext returns the precomputed context, or nil.
func (rc *RunContext) AIContext() *AIContext {
	if rc.in.AIContext == nil {
		return nil
	}
	cp := *rc.in.AIContext
	cp.Memories = append([]DurableMemory(nil), rc.in.AIContext.Memories...)
	return &cp
}

// Snapshot returns the caller input with resolved defaults, suitable for replay.
func (rc *RunContext) Snapshot() Input {
	in := rc.in
	in.Entities = rc.Entities()
	in.History = rc.History()
	in.AIContext = rc.AIContext()
	return in
}

// #endregion accessors

// #region helpers

// IsDebug reports whether the run is in debug mode.
func (rc *RunContext) IsDebug() bool {
	return rc.in.Mode == ModeDebug
}

// SideEffectsAllowed is true iff both the side-effect and write policies are permissive.
func (rc *RunContext) SideEffectsAllowed() bool {
	return rc.sideEffects == SideEffectsEnabled && rc.writes == WritesAllow
}

// ShouldStopAt reports whether the breakpoint is set to stage.
func (rc *RunContext) ShouldStopAt(stage string) bool {
	return rc.in.StopAtStage != "" && rc.in.StopAtStage == stage
}

// Elapsed returns time since the run started.
func (rc *RunContext) Elapsed() time.Duration {
	return rc.now().Sub(rc.startedAt)
}

// FirstVerseRef returns the first caller-supplied verse or chapter reference.
func (rc *RunContext) FirstVerseRef() (EntityRef, bool) {
	return FirstVerseRef(rc.in.Entities)
}

// FirstVerseRef returns the first verse, else chapter, reference in refs.
func FirstVerseRef(refs []EntityRef) (EntityRef, bool) {
	for _, e := range refs {
		if e.Type == EntityVerse {
			return e, true
		}
	}
	for _, e := range refs {
		if e.Type == EntityChapter {
			return e, true
		}
	}
	return EntityRef{}, false
}

// #endregion helpers
