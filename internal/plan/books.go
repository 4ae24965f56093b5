package plan

import (
	"regexp"
	"sort"
	"strings"
)

// Book is one canonical book of the Protestant canon.
type Book struct {
	ID       string // 3-character USFM id
	Name     string
	Chapters int
	Aliases  []string
	// Ambiguous books are common words or given names. They, and every
	// abbreviation, are only detected when followed by a chapter number.
	Ambiguous bool
}

// #region table

var books = []Book{
	{ID: "GEN", Name: "Genesis", Chapters: 50, Aliases: []string{"gen"}},
	{ID: "EXO", Name: "Exodus", Chapters: 40, Aliases: []string{"exod"}},
	{ID: "LEV", Name: "Leviticus", Chapters: 27, Aliases: []string{"lev"}},
	{ID: "NUM", Name: "Numbers", Chapters: 36, Aliases: []string{"num"}, Ambiguous: true},
	{ID: "DEU", Name: "Deuteronomy", Chapters: 34, Aliases: []string{"deut", "dt"}},
	{ID: "JOS", Name: "Joshua", Chapters: 24, Aliases: []string{"josh"}, Ambiguous: true},
	{ID: "JDG", Name: "Judges", Chapters: 21, Aliases: []string{"judg"}, Ambiguous: true},
	{ID: "RUT", Name: "Ruth", Chapters: 4, Ambiguous: true},
	{ID: "1SA", Name: "1 Samuel", Chapters: 31, Aliases: []string{"1 sam"}},
	{ID: "2SA", Name: "2 Samuel", Chapters: 24, Aliases: []string{"2 sam"}},
	{ID: "1KI", Name: "1 Kings", Chapters: 22, Aliases: []string{"1 kgs"}},
	{ID: "2KI", Name: "2 Kings", Chapters: 25, Aliases: []string{"2 kgs"}},
	{ID: "1CH", Name: "1 Chronicles", Chapters: 29, Aliases: []string{"1 chron", "1 chr"}},
	{ID: "2CH", Name: "2 Chronicles", Chapters: 36, Aliases: []string{"2 chron", "2 chr"}},
	{ID: "EZR", Name: "Ezra", Chapters: 10},
	{ID: "NEH", Name: "Nehemiah", Chapters: 13, Aliases: []string{"neh"}},
	{ID: "EST", Name: "Esther", Chapters: 10, Aliases: []string{"esth"}, Ambiguous: true},
	{ID: "JOB", Name: "Job", Chapters: 42, Ambiguous: true},
	{ID: "PSA", Name: "Psalms", Chapters: 150, Aliases: []string{"psalm", "ps", "psa"}},
	{ID: "PRO", Name: "Proverbs", Chapters: 31, Aliases: []string{"prov", "proverb"}},
	{ID: "ECC", Name: "Ecclesiastes", Chapters: 12, Aliases: []string{"eccl", "eccles"}},
	{ID: "SNG", Name: "Song of Solomon", Chapters: 8, Aliases: []string{"song of songs", "song of sol"}},
	{ID: "ISA", Name: "Isaiah", Chapters: 66, Aliases: []string{"isa"}},
	{ID: "JER", Name: "Jeremiah", Chapters: 52, Aliases: []string{"jer"}},
	{ID: "LAM", Name: "Lamentations", Chapters: 5, Aliases: []string{"lam"}},
	{ID: "EZK", Name: "Ezekiel", Chapters: 48, Aliases: []string{"ezek"}},
	{ID: "DAN", Name: "Daniel", Chapters: 12, Aliases: []string{"dan"}, Ambiguous: true},
	{ID: "HOS", Name: "Hosea", Chapters: 14, Aliases: []string{"hos"}},
	{ID: "JOL", Name: "Joel", Chapters: 3, Ambiguous: true},
	{ID: "AMO", Name: "Amos", Chapters: 9},
	{ID: "OBA", Name: "Obadiah", Chapters: 1, Aliases: []string{"obad"}},
	{ID: "JON", Name: "Jonah", Chapters: 4},
	{ID: "MIC", Name: "Micah", Chapters: 7, Aliases: []string{"mic"}},
	{ID: "NAM", Name: "Nahum", Chapters: 3, Aliases: []string{"nah"}},
	{ID: "HAB", Name: "Habakkuk", Chapters: 3, Aliases: []string{"hab"}},
	{ID: "ZEP", Name: "Zephaniah", Chapters: 3, Aliases: []string{"zeph"}},
	{ID: "HAG", Name: "Haggai", Chapters: 2, Aliases: []string{"hag"}},
	{ID: "ZEC", Name: "Zechariah", Chapters: 14, Aliases: []string{"zech"}},
	{ID: "MAL", Name: "Malachi", Chapters: 4, Aliases: []string{"mal"}},
	{ID: "MAT", Name: "Matthew", Chapters: 28, Aliases: []string{"matt", "mt"}, Ambiguous: true},
	{ID: "MRK", Name: "Mark", Chapters: 16, Aliases: []string{"mk"}, Ambiguous: true},
	{ID: "LUK", Name: "Luke", Chapters: 24, Aliases: []string{"lk"}, Ambiguous: true},
	{ID: "JHN", Name: "John", Chapters: 21, Aliases: []string{"jn"}, Ambiguous: true},
	{ID: "ACT", Name: "Acts", Chapters: 28, Ambiguous: true},
	{ID: "ROM", Name: "Romans", Chapters: 16, Aliases: []string{"rom"}},
	{ID: "1CO", Name: "1 Corinthians", Chapters: 16, Aliases: []string{"1 cor"}},
	{ID: "2CO", Name: "2 Corinthians", Chapters: 13, Aliases: []string{"2 cor"}},
	{ID: "GAL", Name: "Galatians", Chapters: 6, Aliases: []string{"gal"}},
	{ID: "EPH", Name: "Ephesians", Chapters: 6, Aliases: []string{"eph"}},
	{ID: "PHP", Name: "Philippians", Chapters: 4, Aliases: []string{"phil"}},
	{ID: "COL", Name: "Colossians", Chapters: 4, Aliases: []string{"col"}},
	{ID: "1TH", Name: "1 Thessalonians", Chapters: 5, Aliases: []string{"1 thess"}},
	{ID: "2TH", Name: "2 Thessalonians", Chapters: 3, Aliases: []string{"2 thess"}},
	{ID: "1TI", Name: "1 Timothy", Chapters: 6, Aliases: []string{"1 tim"}},
	{ID: "2TI", Name: "2 Timothy", Chapters: 4, Aliases: []string{"2 tim"}},
	{ID: "TIT", Name: "Titus", Chapters: 3, Ambiguous: true},
	{ID: "PHM", Name: "Philemon", Chapters: 1, Aliases: []string{"philem"}},
	{ID: "HEB", Name: "Hebrews", Chapters: 13, Aliases: []string{"heb"}},
	{ID: "JAS", Name: "James", Chapters: 5, Aliases: []string{"jas"}, Ambiguous: true},
	{ID: "1PE", Name: "1 Peter", Chapters: 5, Aliases: []string{"1 pet"}},
	{ID: "2PE", Name: "2 Peter", Chapters: 3, Aliases: []string{"2 pet"}},
	{ID: "1JN", Name: "1 John", Chapters: 5, Aliases: []string{"1 jn"}},
	{ID: "2JN", Name: "2 John", Chapters: 1, Aliases: []string{"2 jn"}},
	{ID: "3JN", Name: "3 John", Chapters: 1, Aliases: []string{"3 jn"}},
	{ID: "JUD", Name: "Jude", Chapters: 1, Ambiguous: true},
	{ID: "REV", Name: "Revelation", Chapters: 22, Aliases: []string{"revelations", "rev"}},
}

// #endregion table

// #region index

type nameEntry struct {
	book         *Book
	needsChapter bool
}

var (
	bookByID   = map[string]*Book{}
	bookByName = map[string]nameEntry{}
	// refRe matches a book name (longest alternative first) optionally
	// followed by chapter, verse and verse-range numbers.
	refRe *regexp.Regexp
)

var ordinalWords = map[string][]string{
	"1": {"1", "1st", "first", "i"},
	"2": {"2", "2nd", "second", "ii"},
	"3": {"3", "3rd", "third", "iii"},
}

func init() {
	var names []string
	for i := range books {
		b := &books[i]
		bookByID[b.ID] = b
		for j, n := range append([]string{b.Name}, b.Aliases...) {
			for _, v := range nameVariants(strings.ToLower(n)) {
				if _, dup := bookByName[v]; dup {
					continue
				}
				roman := strings.HasPrefix(v, "i ") || strings.HasPrefix(v, "ii ") || strings.HasPrefix(v, "iii ")
				bookByName[v] = nameEntry{book: b, needsChapter: j > 0 || b.Ambiguous || roman}
				names = append(names, v)
			}
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	alts := make([]string, len(names))
	for i, n := range names {
		alts[i] = strings.ReplaceAll(regexp.QuoteMeta(n), " ", `\s+`)
	}
	refRe = regexp.MustCompile(`(?i)\b(` + strings.Join(alts, "|") + `)\b\.?(?:\s+(?:chapter\s+)?(\d{1,3})(?::(\d{1,3})(?:\s*-\s*(\d{1,3}))?)?\b)?`)
}

// nameVariants expands "1 samuel" into "1 samuel", "1samuel", "1st samuel", "first samuel", "i samuel".
func nameVariants(name string) []string {
	num, rest, ok := strings.Cut(name, " ")
	words, numbered := ordinalWords[num]
	if !ok || !numbered {
		return []string{name}
	}
	out := []string{num + rest}
	for _, w := range words {
		out = append(out, w+" "+rest)
	}
	return out
}

// #endregion index

// #region lookup

// BookByID returns the book with the canonical id (case-insensitive).
func BookByID(id string) (Book, bool) {
	b, ok := bookByID[strings.ToUpper(strings.TrimSpace(id))]
	if !ok {
		return Book{}, false
	}
	return *b, true
}

// ResolveBook maps a free-text book name to a canonical book. Leading
// non-book tokens ("into romans", "the book of psalms") are stripped one at a
// time until a name matches.
func ResolveBook(name string) (Book, bool) {
	fields := strings.Fields(strings.ToLower(strings.Trim(name, " .,;:!?")))
	for len(fields) > 0 {
		if e, ok := bookByName[strings.Join(fields, " ")]; ok {
			return *e.book, true
		}
		if b, ok := bookByID[strings.ToUpper(strings.Join(fields, ""))]; ok && len(fields) == 1 {
			return *b, true
		}
		fields = fields[1:]
	}
	return Book{}, false
}

// #endregion lookup
