// Package styling classifies runs of a message as plain or emphasized based on
// nested bracket delimiters.
//
// A Styler is configured with a set of bracket pairs. Classify performs one
// matching pass per pair type (LIFO, so nested same-type pairs resolve
// naturally), then walks the matched half-brackets in index order to emit a
// gap-free list of ranges. Unmatched openers and closers are never styled on
// their own; they fall inside whatever run surrounds them.
//
// Offsets are rune offsets, so fullwidth brackets count as one position.
package styling

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

type Style int

const (
	StylePlain Style = iota
	StyleEmphasized
)

func (s Style) String() string {
	switch s {
	case StylePlain:
		return "plain"
	case StyleEmphasized:
		return "emphasized"
	default:
		return fmt.Sprintf("style(%d)", int(s))
	}
}

func (s Style) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// NoPair marks a range that is not enclosed by any matched bracket pair.
const NoPair = -1

// Pair is one bracket type.
type Pair struct {
	Name  string `json:"name"`
	Open  rune   `json:"open"`
	Close rune   `json:"close"`
}

// DefaultPairs are square brackets, parentheses and their fullwidth variants.
var DefaultPairs = []Pair{
	{Name: "square", Open: '[', Close: ']'},
	{Name: "paren", Open: '(', Close: ')'},
	{Name: "fullwidth-lenticular", Open: '【', Close: '】'},
	{Name: "fullwidth-paren", Open: '（', Close: '）'},
}

// Range covers the runes [Start, End] of the input, End inclusive.
//
// Pair is the index of the bracket type the range belongs to: the delimiter's
// own type for a bracket character, the innermost enclosing type for text
// inside brackets, NoPair for plain text.
type Range struct {
	Start int   `json:"start"`
	End   int   `json:"end"`
	Style Style `json:"style"`
	Pair  int   `json:"pair"`
}

func (r Range) Len() int {
	return r.End - r.Start + 1
}

type halfBracket struct {
	index  int
	pair   int
	opener bool
}

type Styler struct {
	pairs   []Pair
	openers map[rune]int
	closers map[rune]int
}

// New builds a Styler for the given pairs. Each character may be used by at
// most one pair, either as opener or closer.
func New(pairs ...Pair) (*Styler, error) {
	if len(pairs) == 0 {
		pairs = DefaultPairs
	}
	s := &Styler{
		pairs:   append([]Pair(nil), pairs...),
		openers: make(map[rune]int, len(pairs)),
		closers: make(map[rune]int, len(pairs)),
	}
	seen := map[rune]string{}
	for i, p := range pairs {
		if p.Open == p.Close {
			return nil, fmt.Errorf("bracket pair %d (%q): opener and closer are the same character %q", i, p.Name, p.Open)
		}
		for _, r := range []rune{p.Open, p.Close} {
			if other, ok := seen[r]; ok {
				return nil, fmt.Errorf("bracket pair %d (%q): character %q already used by %q", i, p.Name, r, other)
			}
			seen[r] = p.Name
		}
		s.openers[p.Open] = i
		s.closers[p.Close] = i
	}
	return s, nil
}

// MustNew is like New but panics on invalid pairs.
func MustNew(pairs ...Pair) *Styler {
	s, err := New(pairs...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Styler) Pairs() []Pair {
	return append([]Pair(nil), s.pairs...)
}

var defaultStyler = MustNew(DefaultPairs...)

// Classify runs the default styler.
func Classify(text string) []Range {
	return defaultStyler.Classify(text)
}

// Classify returns contiguous, non-overlapping ranges covering every rune of
// text in ascending order. Empty input yields no ranges.
func (s *Styler) Classify(text string) []Range {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	matched := s.match(runes)
	if len(matched) == 0 {
		return []Range{{Start: 0, End: n - 1, Style: StylePlain, Pair: NoPair}}
	}

	ranges := make([]Range, 0, 2*len(matched)+1)
	nesting := make([]int, 0, len(matched)/2)
	cursor := 0
	for _, hb := range matched {
		if hb.index > cursor {
			ranges = append(ranges, enclosed(cursor, hb.index-1, nesting))
		}
		ranges = append(ranges, Range{Start: hb.index, End: hb.index, Style: StyleEmphasized, Pair: hb.pair})
		cursor = hb.index + 1
		if hb.opener {
			nesting = append(nesting, hb.pair)
		} else if len(nesting) > 0 {
			nesting = nesting[:len(nesting)-1]
		}
	}
	if cursor < n {
		ranges = append(ranges, enclosed(cursor, n-1, nesting))
	}
	return ranges
}

// match performs the per-type LIFO matching pass and returns both halves of
// every matched pair, sorted by index.
func (s *Styler) match(runes []rune) []halfBracket {
	stacks := make([][]int, len(s.pairs))
	var matched []halfBracket
	for i, r := range runes {
		if p, ok := s.openers[r]; ok {
			stacks[p] = append(stacks[p], i)
			continue
		}
		if p, ok := s.closers[r]; ok {
			st := stacks[p]
			if len(st) == 0 {
				continue
			}
			open := st[len(st)-1]
			stacks[p] = st[:len(st)-1]
			matched = append(matched,
				halfBracket{index: open, pair: p, opener: true},
				halfBracket{index: i, pair: p, opener: false},
			)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].index < matched[j].index })
	return matched
}

func enclosed(start, end int, nesting []int) Range {
	if len(nesting) == 0 {
		return Range{Start: start, End: end, Style: StylePlain, Pair: NoPair}
	}
	return Range{Start: start, End: end, Style: StyleEmphasized, Pair: nesting[len(nesting)-1]}
}

// Run is a range resolved to its text.
type Run struct {
	Text  string `json:"text"`
	Style Style  `json:"style"`
	Pair  int    `json:"pair"`
}

// Runs classifies text and returns the substring of every range. The
// substrings are cut from text itself, so invalid UTF-8 survives unchanged.
func (s *Styler) Runs(text string) []Run {
	offsets := runeOffsets(text)
	ranges := s.Classify(text)
	ret := make([]Run, 0, len(ranges))
	for _, r := range ranges {
		ret = append(ret, Run{Text: text[offsets[r.Start]:offsets[r.End+1]], Style: r.Style, Pair: r.Pair})
	}
	return ret
}

// runeOffsets returns the byte offset of every rune of text followed by
// len(text). An invalid byte counts as one rune, as in []rune(text).
func runeOffsets(text string) []int {
	ret := make([]int, 0, len(text)+1)
	for i := 0; i < len(text); {
		ret = append(ret, i)
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return append(ret, len(text))
}

// Runs uses the default styler.
func Runs(text string) []Run {
	return defaultStyler.Runs(text)
}
