package styling

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireCoverage(t testing.TB, text string, ranges []Range) {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		require.Empty(t, ranges)
		return
	}
	require.NotEmpty(t, ranges)
	require.Equal(t, 0, ranges[0].Start)
	require.Equal(t, n-1, ranges[len(ranges)-1].End)
	for i, r := range ranges {
		require.LessOrEqual(t, r.Start, r.End, "range %d is empty", i)
		if i > 0 {
			require.Equal(t, ranges[i-1].End+1, r.Start, "gap or overlap before range %d", i)
		}
	}
}

func TestClassify_NestedMixedPairs(t *testing.T) {
	ranges := Classify("a[b(c)d]e")
	requireCoverage(t, "a[b(c)d]e", ranges)

	expected := []Range{
		{Start: 0, End: 0, Style: StylePlain, Pair: NoPair},
		{Start: 1, End: 1, Style: StyleEmphasized, Pair: 0},
		{Start: 2, End: 2, Style: StyleEmphasized, Pair: 0},
		{Start: 3, End: 3, Style: StyleEmphasized, Pair: 1},
		{Start: 4, End: 4, Style: StyleEmphasized, Pair: 1},
		{Start: 5, End: 5, Style: StyleEmphasized, Pair: 1},
		{Start: 6, End: 6, Style: StyleEmphasized, Pair: 0},
		{Start: 7, End: 7, Style: StyleEmphasized, Pair: 0},
		{Start: 8, End: 8, Style: StylePlain, Pair: NoPair},
	}
	assert.Equal(t, expected, ranges)
}

func TestClassify_StrayCloserIsPlain(t *testing.T) {
	ranges := Classify("a]b")
	assert.Equal(t, []Range{{Start: 0, End: 2, Style: StylePlain, Pair: NoPair}}, ranges)
}

func TestClassify_UnmatchedOpenerIsPlain(t *testing.T) {
	ranges := Classify("(never closed")
	assert.Equal(t, []Range{{Start: 0, End: 12, Style: StylePlain, Pair: NoPair}}, ranges)
}

func TestClassify_NestedSameType(t *testing.T) {
	runs := Runs("[[a]]")
	require.Len(t, runs, 5)
	for _, r := range runs {
		assert.Equal(t, StyleEmphasized, r.Style)
	}
	assert.Equal(t, "a", runs[2].Text)
}

func TestClassify_StrayInsideEmphasisStaysInRun(t *testing.T) {
	runs := Runs("x [a ) b] y")
	texts := make([]string, 0, len(runs))
	for _, r := range runs {
		texts = append(texts, r.Text)
	}
	assert.Equal(t, []string{"x ", "[", "a ) b", "]", " y"}, texts)
	assert.Equal(t, StyleEmphasized, runs[2].Style)
	assert.Equal(t, StylePlain, runs[4].Style)
}

func TestClassify_FullwidthUsesRuneOffsets(t *testing.T) {
	runs := Runs("【强调】普通")
	require.Len(t, runs, 4)
	assert.Equal(t, "【", runs[0].Text)
	assert.Equal(t, "强调", runs[1].Text)
	assert.Equal(t, StyleEmphasized, runs[1].Style)
	assert.Equal(t, 2, runs[1].Pair)
	assert.Equal(t, "普通", runs[3].Text)
	assert.Equal(t, StylePlain, runs[3].Style)
}

func TestClassify_Empty(t *testing.T) {
	assert.Empty(t, Classify(""))
	assert.Empty(t, Runs(""))
}

func TestClassify_TrailingTextInsideUnclosedOuter(t *testing.T) {
	// "(" at 0 never closes, the inner pair still matches.
	runs := Runs("( [x] tail")
	texts := make([]string, 0, len(runs))
	for _, r := range runs {
		texts = append(texts, r.Text)
	}
	assert.Equal(t, []string{"( ", "[", "x", "]", " tail"}, texts)
	assert.Equal(t, StylePlain, runs[0].Style)
	assert.Equal(t, StylePlain, runs[4].Style)
}

func TestNew_RejectsSharedCharacters(t *testing.T) {
	_, err := New(Pair{Name: "a", Open: '<', Close: '>'}, Pair{Name: "b", Open: '>', Close: '<'})
	require.Error(t, err)

	_, err = New(Pair{Name: "same", Open: '|', Close: '|'})
	require.Error(t, err)
}

func TestNew_CustomPairs(t *testing.T) {
	s, err := New(Pair{Name: "angle", Open: '<', Close: '>'})
	require.NoError(t, err)

	runs := s.Runs("a <b> [c]")
	texts := make([]string, 0, len(runs))
	for _, r := range runs {
		texts = append(texts, r.Text)
	}
	// square brackets are not configured and stay plain
	assert.Equal(t, []string{"a ", "<", "b", ">", " [c]"}, texts)
}

func TestRuns_KeepsInvalidUTF8(t *testing.T) {
	text := "a[\xffb]c\xe3\x80"
	runs := Runs(text)
	texts := make([]string, 0, len(runs))
	var b strings.Builder
	for _, r := range runs {
		texts = append(texts, r.Text)
		b.WriteString(r.Text)
	}
	assert.Equal(t, []string{"a", "[", "\xffb", "]", "c\xe3\x80"}, texts)
	assert.Equal(t, text, b.String())
	requireCoverage(t, text, Classify(text))
}

func FuzzClassify_Reconstructs(f *testing.F) {
	for _, seed := range []string{"", "a[b(c)d]e", "a]b", "[[a]]", "【x（y）】", "((]]", "[(])", "a[\xffb]c"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, text string) {
		ranges := Classify(text)
		requireCoverage(t, text, ranges)

		var b strings.Builder
		for _, r := range Runs(text) {
			b.WriteString(r.Text)
		}
		require.Equal(t, text, b.String())
	})
}
