package plan

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// #region patterns

type rangePattern struct {
	re *regexp.Regexp
	r  TemporalRange
}

// Ordered most specific first.
var rangePatterns = []rangePattern{
	{regexp.MustCompile(`(?i)\byesterday\b`), RangeYesterday},
	{regexp.MustCompile(`(?i)\b(today|this morning|tonight)\b`), RangeToday},
	{regexp.MustCompile(`(?i)\b(last|past|previous) week\b|\ba week ago\b`), RangeLastWeek},
	{regexp.MustCompile(`(?i)\bthis week\b`), RangeThisWeek},
	{regexp.MustCompile(`(?i)\b(last|past|previous) month\b|\ba month ago\b`), RangeLastMonth},
	{regexp.MustCompile(`(?i)\bthis month\b`), RangeThisMonth},
	{regexp.MustCompile(`(?i)\bthis year\b`), RangeThisYear},
	{regexp.MustCompile(`(?i)\b(recently|lately|these days|past few (days|weeks))\b`), RangeRecent},
}

var (
	oldestRe = regexp.MustCompile(`(?i)\b(oldest|earliest|first time|when did i (first|start)|at the (start|beginning))\b`)
	newestRe = regexp.MustCompile(`(?i)\b(newest|latest|most recent(ly)?|last time i)\b`)

	continuityRe = regexp.MustCompile(`(?i)\b(pick (it |things )?(back )?up|where (we|i) left( (it|off))?|continue (our|the|where)|carry on|last time we (talked|spoke|chatted)|as we (discussed|were saying)|we were (talking|discussing)|(remember|recall) (when|what) we|our (last|previous) (conversation|chat|talk))\b`)
	pastoralRe   = regexp.MustCompile(`(?i)\b(struggl\w*|anxious|anxiety|depress\w*|grie(f|ving|ve)|lonely|alone|afraid|scared|hurt(ing)?|overwhelm\w*|hopeless|broken|worried|worry|sad|heartbroken|lost my|pray for me|can'?t sleep|burn(ed|t)? out|doubt(ing)?)\b`)
	studyRe      = regexp.MustCompile(`(?i)\b(what does .+ mean|meaning of|context of|original (greek|hebrew)|commentary|cross.?reference|exegesis|study|dove deep|deep dive|dig(ging)? into|what did i learn|what have i learned|theme of)\b`)
	coachRe      = regexp.MustCompile(`(?i)\b(how (can|do|should) i|help me (to )?(build|start|keep|stay|be)|habit|goal|discipline|routine|consistent(ly)?|accountab\w*|plan to|next step)\b`)

	shortRe = regexp.MustCompile(`(?i)\b(brief(ly)?|quick(ly)?|short|tl;?dr|in a sentence|one line)\b`)
	longRe  = regexp.MustCompile(`(?i)\b(in depth|in-depth|detailed|thorough(ly)?|deep dive|explain fully|walk me through)\b`)

	readingHistoryRe = regexp.MustCompile(`(?i)\b(what (have|did) i (been )?read(ing)?|reading (history|streak|progress)|how (much|often|many chapters) (have|did) i read|chapters? (have|did) i read|where (was|am) i (in|reading)|last (chapter|passage|book) i read|have i read)\b`)
	resumeRe         = regexp.MustCompile(`(?i)\b(pick (it |things )?(back )?up|resume|continue|where (we|i) left( (it|off))?|carry on|get back to|back to where)\b`)
	resumeReadingRe  = regexp.MustCompile(`(?i)\b(read(ing)?|chapter|passage|bible|book of|plan)\b`)
	resumeConvoRe    = regexp.MustCompile(`(?i)\b(conversation|chat|talk(ing)?|discuss(ion|ing)?|we (were|left)|our)\b`)
	highlightRe      = regexp.MustCompile(`(?i)\bhighlight(s|ed)?\b`)
	noteRe           = regexp.MustCompile(`(?i)\b(notes?|noted|annotat\w*)\b`)
	learnedRe        = regexp.MustCompile(`(?i)\b(what (did|have) i learn(ed)?|what i('ve| have)? learn(ed|t)|takeaways?|what stood out|insights? (did|have) i)\b`)
	topicRe          = regexp.MustCompile(`(?i)\b(?:reflections?|thoughts|prayers?|journal(?:ed|ing| entries)?|write|wrote|written|said) (?:about|on|regarding|concerning) (?P<topic>.+?)[?.!]*$`)

	selfHarmRe = regexp.MustCompile(`(?i)\b(kill(ing)? myself|suicid\w*|end (my life|it all)|self.?harm|cut(ting)? myself|want(ed)? to die|don'?t want to (live|be here)|hurt(ing)? myself|no reason to live)\b`)
	violenceRe = regexp.MustCompile(`(?i)\b(kill (him|her|them|someone|you)|hurt (him|her|them|someone)|shoot(ing)?|stab(bing)?|beat (him|her|them) up|revenge|get even with)\b`)

	disclosureRe  = regexp.MustCompile(`(?i)\b(i am|i'm|i feel|i've been|i have been|i was|i struggle|i love|i hate|i work|i live|i lost|i just|my (wife|husband|son|daughter|mom|mother|dad|father|job|family|friend|church|health|kids?|boss|marriage|sister|brother))\b`)
	situationalRe = regexp.MustCompile(`(?i)\b(right now|currently|going through|this season|these days|at the moment|lately)\b`)
)

// #endregion patterns

// #region analysis

// analysis is the rule-derived view of a message, shared by every tier.
type analysis struct {
	temporal       *TemporalFilter
	scope          *ScriptureScope
	safety         SafetyFlags
	selfDisclosure bool
	situational    bool
	readingHistory bool
	resumeReading  bool
	resumeConvo    bool
	learned        bool
	highlights     bool
	notes          bool
	topic          string
}

// DetectSafety runs the self-harm and violence keyword classes over text.
func DetectSafety(text string) SafetyFlags {
	return SafetyFlags{SelfHarm: selfHarmRe.MatchString(text), Violence: violenceRe.MatchString(text)}
}

func analyze(msg string, scope *ScriptureScope) analysis {
	a := analysis{
		scope:          scope,
		safety:         DetectSafety(msg),
		selfDisclosure: disclosureRe.MatchString(msg),
		situational:    situationalRe.MatchString(msg),
		readingHistory: readingHistoryRe.MatchString(msg),
		learned:        learnedRe.MatchString(msg),
		highlights:     highlightRe.MatchString(msg),
		notes:          noteRe.MatchString(msg),
	}
	if m := topicRe.FindStringSubmatch(msg); m != nil {
		a.topic = strings.TrimSpace(m[topicRe.SubexpIndex("topic")])
	}
	if resumeRe.MatchString(msg) {
		a.resumeConvo = resumeConvoRe.MatchString(msg)
		a.resumeReading = !a.resumeConvo && (resumeReadingRe.MatchString(msg) || scope != nil)
	}

	var tf TemporalFilter
	for _, p := range rangePatterns {
		if p.re.MatchString(msg) {
			tf.Range = p.r
			break
		}
	}
	switch {
	case oldestRe.MatchString(msg):
		tf.Direction = DirectionOldest
	case newestRe.MatchString(msg):
		tf.Direction = DirectionNewest
	}
	if tf != (TemporalFilter{}) {
		a.temporal = &tf
	}
	return a
}

// mode returns the first matching mode in precedence order.
func (a analysis) mode(msg string) (ResponseMode, bool) {
	switch {
	case continuityRe.MatchString(msg):
		return ModeContinuity, true
	case a.safety.Any() || pastoralRe.MatchString(msg):
		return ModePastoral, true
	case studyRe.MatchString(msg) || a.learned:
		return ModeStudy, true
	case coachRe.MatchString(msg):
		return ModeCoach, true
	}
	return ModeExplain, false
}

func (a analysis) length(msg string, mode ResponseMode) Length {
	switch {
	case shortRe.MatchString(msg):
		return LengthShort
	case longRe.MatchString(msg):
		return LengthLong
	case mode == ModeStudy:
		return LengthLong
	}
	return LengthMedium
}

// signals renders the human-readable detections.
func (a analysis) signals() []string {
	var s []string
	if a.temporal != nil {
		if a.temporal.Range != "" {
			s = append(s, "temporal:"+string(a.temporal.Range))
		}
		if a.temporal.Direction != "" {
			s = append(s, "direction:"+string(a.temporal.Direction))
		}
	}
	if a.scope != nil {
		if a.scope.Kind == ScopeChapter {
			s = append(s, fmt.Sprintf("scope:%s.%d", a.scope.BookID, a.scope.Chapter))
		} else {
			s = append(s, "scope:"+a.scope.BookID)
		}
	}
	if a.safety.SelfHarm {
		s = append(s, "safety:self_harm")
	}
	if a.safety.Violence {
		s = append(s, "safety:violence")
	}
	if a.selfDisclosure {
		s = append(s, "self_disclosure")
	}
	if a.situational {
		s = append(s, "situational")
	}
	return s
}

// #endregion analysis

// #region rule-tier

// rulePlan is tier 1. It returns nil when no retrieval need was triggered.
func rulePlan(in tierInput) *Plan {
	msg := in.message
	if msg == "" {
		return nil
	}
	a := in.analysis

	var needs []Need
	var signals []string
	add := func(n Need, why string) {
		if !slices.Contains(needs, n) {
			needs = append(needs, n)
		}
		signals = append(signals, why)
	}

	if a.readingHistory {
		add(NeedReadingSessions, "reading_history")
	}
	if a.resumeReading {
		add(NeedReadingSessions, "resume_reading")
	}
	if a.resumeConvo {
		add(NeedSessionSummaries, "resume_conversation")
	}
	if a.highlights {
		add(NeedHighlights, "highlights_query")
	}
	if a.notes {
		add(NeedNotes, "notes_query")
	}
	if a.learned {
		add(NeedHighlights, "learned_query")
		add(NeedNotes, "learned_query")
		add(NeedSemantic, "learned_query")
	}
	if a.topic != "" {
		add(NeedSemantic, "topical_query")
	}
	if len(needs) == 0 {
		return nil
	}

	mode, matched := a.mode(msg)
	if a.resumeConvo && !matched {
		mode, matched = ModeContinuity, true
	}
	confidence := 0.75
	if matched {
		confidence = 0.9
	}

	query := msg
	if a.topic != "" {
		query = a.topic
	}

	p := &Plan{
		Response: ResponsePlan{
			Mode:           mode,
			Length:         a.length(msg, mode),
			Safety:         a.safety,
			SelfDisclosure: a.selfDisclosure,
			Situational:    a.situational,
			Signals:        append(append([]string{"mode:" + string(mode)}, signals...), a.signals()...),
			Source:         SourceRules,
			Confidence:     confidence,
		},
		Retrieval: RetrievalPlan{
			Needs:    needs,
			Temporal: a.temporal,
			Scope:    a.scope,
			Query:    query,
		},
	}
	p.Retrieval.ArtifactTypes = typesForNeeds(needs)
	p.Retrieval.Limits = limitsForNeeds(needs, nil)
	return p
}

// sessionStartPlan handles the synthetic session-opening message: the text
// carries no intent, so recent context is fetched by recency.
func sessionStartPlan(in tierInput) *Plan {
	needs := []Need{NeedSemantic, NeedSessionSummaries, NeedReadingSessions}
	return &Plan{
		Response: ResponsePlan{
			Mode:       ModeContinuity,
			Length:     LengthShort,
			Safety:     in.analysis.safety,
			Signals:    []string{"session_start"},
			Source:     SourceRules,
			Confidence: 1,
		},
		Retrieval: RetrievalPlan{
			Needs:         needs,
			Temporal:      &TemporalFilter{Range: RangeRecent, Direction: DirectionNewest},
			ArtifactTypes: typesForNeeds(needs),
			Limits:        limitsForNeeds(needs, nil),
		},
	}
}

// #endregion rule-tier

// #region helpers

// typesForNeeds derives the artifact-type allowlist. The semantic need admits
// every personal type.
func typesForNeeds(needs []Need) []ArtifactType {
	if slices.Contains(needs, NeedSemantic) {
		return slices.Clone(PersonalArtifactTypes)
	}
	var out []ArtifactType
	for _, t := range PersonalArtifactTypes {
		if n := NeedForArtifactType(t); n != "" && slices.Contains(needs, n) {
			out = append(out, t)
		}
	}
	return out
}

// limitsForNeeds fills defaults for every need, keeping explicit in-range values.
func limitsForNeeds(needs []Need, explicit map[Need]int) map[Need]int {
	out := make(map[Need]int, len(needs))
	for _, n := range needs {
		if v, ok := explicit[n]; ok && v >= 1 && v <= maxLimit {
			out[n] = v
			continue
		}
		out[n] = DefaultLimits[n]
	}
	return out
}

const maxLimit = 20

// #endregion helpers
