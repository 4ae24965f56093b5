package plan

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
)

// #region normalize

var quoteReplacer = strings.NewReplacer(
	"\u2018", "'", "\u2019", "'", "\u201c", `"`, "\u201d", `"`,
	"\u2013", "-", "\u2014", "-",
)

// Normalize removes zero-width characters, folds typographic quotes and dashes,
// and collapses all whitespace runs to a single space.
func Normalize(s string) string {
	s = quoteReplacer.Replace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
			return -1
		}
		if unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// #endregion normalize

// #region entities

// ExtractEntities finds scripture references in msg. Results are unique by
// locator, in order of appearance.
func ExtractEntities(msg string) []runctx.EntityRef {
	var out []runctx.EntityRef
	seen := map[string]bool{}
	for _, m := range refRe.FindAllStringSubmatch(msg, -1) {
		entry, ok := bookByName[strings.ToLower(strings.Join(strings.Fields(m[1]), " "))]
		if !ok {
			continue
		}
		b := entry.book
		chapter, _ := strconv.Atoi(m[2])
		if chapter > b.Chapters {
			chapter = 0
		}
		if chapter == 0 && entry.needsChapter {
			continue
		}
		ref := runctx.EntityRef{Type: runctx.EntityBook, Reference: b.Name, BookID: b.ID, BookName: b.Name}
		if chapter > 0 {
			ref.Type = runctx.EntityChapter
			ref.Chapter = chapter
			ref.Reference = fmt.Sprintf("%s %d", b.Name, chapter)
			if v, _ := strconv.Atoi(m[3]); v > 0 {
				ref.Type = runctx.EntityVerse
				ref.VerseStart = v
				ref.Reference = fmt.Sprintf("%s %d:%d", b.Name, chapter, v)
				if e, _ := strconv.Atoi(m[4]); e > v {
					ref.VerseEnd = e
					ref.Reference = fmt.Sprintf("%s %d:%d-%d", b.Name, chapter, v, e)
				}
			}
		}
		if seen[ref.Locator()] {
			continue
		}
		seen[ref.Locator()] = true
		out = append(out, ref)
	}
	return out
}

// mergeEntities appends extracted refs not already supplied by the caller.
func mergeEntities(supplied, extracted []runctx.EntityRef) []runctx.EntityRef {
	out := append([]runctx.EntityRef(nil), supplied...)
	seen := map[string]bool{}
	for _, e := range supplied {
		seen[e.Locator()] = true
	}
	for _, e := range extracted {
		if !seen[e.Locator()] {
			seen[e.Locator()] = true
			out = append(out, e)
		}
	}
	return out
}

// scopeFromEntities derives the most specific scripture scope: the first
// chapter-or-verse reference, else the first book reference.
func scopeFromEntities(refs []runctx.EntityRef) *ScriptureScope {
	if ref, ok := runctx.FirstVerseRef(refs); ok && ref.BookID != "" {
		return &ScriptureScope{Kind: ScopeChapter, BookID: ref.BookID, Book: ref.BookName, Chapter: ref.Chapter}
	}
	for _, e := range refs {
		if e.Type == runctx.EntityBook && e.BookID != "" {
			return &ScriptureScope{Kind: ScopeBook, BookID: e.BookID, Book: e.BookName}
		}
	}
	return nil
}

// #endregion entities
