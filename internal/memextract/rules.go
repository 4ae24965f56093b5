package memextract

import (
	"context"
	"regexp"
	"strings"

	"github.com/danielpatrickdp/companion-pipeline/internal/search"
)

// #region patterns

var (
	translationRe  = regexp.MustCompile(`(?i)\b(?:i prefer|i use|i read|i like)\s+(?:the\s+)?(ESV|NIV|KJV|NKJV|NLT|NASB|CSB|MSG|NRSV|AMP)\b`)
	readingTimeRe  = regexp.MustCompile(`(?i)\bi (?:usually |always |like to )?read (?:my bible )?(?:in|every) (?:the )?(morning|evening|night|lunch)\b`)
	relationNameRe = regexp.MustCompile(`(?i)\bmy (wife|husband|son|daughter|mom|mother|dad|father|sister|brother|friend|pastor|boss)(?:'s name is| is named| named| is called| called)\s+((?-i:[A-Z][a-z]+))`)
	occupationRe   = regexp.MustCompile(`(?i)\bi(?: work as| am|'m) an? ((?:[a-z]+ ){0,2}(?:nurse|teacher|engineer|developer|pastor|student|doctor|mechanic|accountant|manager|lawyer|farmer|designer|writer|chef|firefighter|soldier))\b`)
	locationRe     = regexp.MustCompile(`\b[Ii] live in ([A-Z][A-Za-z]+(?: [A-Z][A-Za-z]+)?)`)
	goalRe         = regexp.MustCompile(`(?i)\bi(?: want| hope| am trying|'m trying| plan) to (read|memorize|study|pray|finish|get through|start) ([^.!?,]{3,60})`)
	prayerRe       = regexp.MustCompile(`(?i)\bplease pray for ([^.!?]{3,80})`)
	struggleRe     = regexp.MustCompile(`(?i)\bi(?:'m| am|'ve been| have been) (?:struggling|dealing|wrestling|going through|battling)(?: with)? ([^.!?,]{3,60})`)
)

// #endregion patterns

// #region rules

// Rules extracts candidates with fixed patterns over the user message.
type Rules struct{}

func (Rules) Name() string { return "rules" }

// Extract never fails.
func (Rules) Extract(_ context.Context, t Turn) ([]Candidate, error) {
	msg := t.Message
	var out []Candidate
	add := func(kind, key, value string, conf float64) {
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			return
		}
		for _, c := range out {
			if c.Kind == kind && c.Key == key {
				return
			}
		}
		out = append(out, Candidate{Kind: kind, Key: key, Value: value, Confidence: conf})
	}

	if m := translationRe.FindStringSubmatch(msg); m != nil {
		add(KindPreference, "preferred_translation", strings.ToUpper(m[1]), 0.9)
	}
	if m := readingTimeRe.FindStringSubmatch(msg); m != nil {
		add(KindPreference, "reading_time", strings.ToLower(m[1]), 0.7)
	}
	for _, m := range relationNameRe.FindAllStringSubmatch(msg, -1) {
		add(KindRelationship, strings.ToLower(m[1]), m[2], 0.9)
	}
	if m := occupationRe.FindStringSubmatch(msg); m != nil {
		add(KindFact, "occupation", strings.ToLower(m[1]), 0.7)
	}
	if m := locationRe.FindStringSubmatch(msg); m != nil {
		add(KindFact, "location", m[1], 0.8)
	}
	if m := goalRe.FindStringSubmatch(msg); m != nil {
		phrase := strings.ToLower(m[1] + " " + m[2])
		add(KindGoal, slug(phrase), phrase, 0.6)
	}
	if m := prayerRe.FindStringSubmatch(msg); m != nil {
		add(KindPrayerRequest, slug(m[1]), m[1], 0.8)
	}
	if m := struggleRe.FindStringSubmatch(msg); m != nil {
		add(KindTheme, slug(m[1]), strings.ToLower(m[1]), 0.5)
	}
	return out, nil
}

// slug builds a stable key from the first content words of a phrase.
func slug(phrase string) string {
	toks := search.Tokenize(phrase)
	if len(toks) > 3 {
		toks = toks[:3]
	}
	return strings.Join(toks, "_")
}

// #endregion rules
