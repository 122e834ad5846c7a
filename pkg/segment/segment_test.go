package segment

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_NestedBlock(t *testing.T) {
	got := Split("hi <div>x<span>y</span>z</div> bye")
	assert.Equal(t, []Segment{
		PlainText("hi "),
		MarkupBlock("<div>x<span>y</span>z</div>"),
		PlainText(" bye"),
	}, got)
}

func TestSplit_UnterminatedOpenerDegrades(t *testing.T) {
	got := Split("<b>unterminated")
	assert.Equal(t, []Segment{
		MarkupBlock("<b>"),
		PlainText("unterminated"),
	}, got)
}

func TestSplit_NoTokens(t *testing.T) {
	assert.Equal(t, []Segment{PlainText("just words, 3 < 4 > 2")}, Split("just words, 3 < 4 > 2"))
	assert.Empty(t, Split(""))
}

func TestSplit_SameNameNesting(t *testing.T) {
	got := Split("<div><div>in</div></div>after")
	assert.Equal(t, []Segment{
		MarkupBlock("<div><div>in</div></div>"),
		PlainText("after"),
	}, got)
}

func TestSplit_CaseInsensitiveNames(t *testing.T) {
	got := Split("<DIV>x</div>")
	assert.Equal(t, []Segment{MarkupBlock("<DIV>x</div>")}, got)
}

func TestSplit_CommentsAreBlocksAndDoNotBalance(t *testing.T) {
	got := Split("a <!-- <b> \n multi --> b")
	assert.Equal(t, []Segment{
		PlainText("a "),
		MarkupBlock("<!-- <b> \n multi -->"),
		PlainText(" b"),
	}, got)

	got = Split("<p>one<!-- </p> -->two</p>")
	assert.Equal(t, []Segment{MarkupBlock("<p>one<!-- </p> -->two</p>")}, got)
}

func TestSplit_StrayCloserAndSelfClosing(t *testing.T) {
	got := Split("line</i>next<br/>end")
	assert.Equal(t, []Segment{
		PlainText("line"),
		MarkupBlock("</i>"),
		PlainText("next"),
		MarkupBlock("<br/>"),
		PlainText("end"),
	}, got)
}

func TestSplit_HeadingNames(t *testing.T) {
	got := Split("<h1>Title</h1>body")
	assert.Equal(t, []Segment{MarkupBlock("<h1>Title</h1>"), PlainText("body")}, got)

	// 7 is outside the admitted digit set, so this is not a tag
	got = Split("<h7>x</h7>")
	assert.Equal(t, []Segment{PlainText("<h7>x</h7>")}, got)
}

func TestSplit_MergesAdjacentBlocksAndSandwichedBlank(t *testing.T) {
	text := "<p>a</p>\n  <p>b</p><img src=\"x.png\"/> tail"
	raw := MustNew().SplitRaw(text)
	assert.Equal(t, []Segment{
		MarkupBlock("<p>a</p>"),
		PlainText("\n  "),
		MarkupBlock("<p>b</p>"),
		MarkupBlock("<img src=\"x.png\"/>"),
		PlainText(" tail"),
	}, raw)

	got := Split(text)
	assert.Equal(t, []Segment{
		MarkupBlock("<p>a</p>\n  <p>b</p><img src=\"x.png\"/>"),
		PlainText(" tail"),
	}, got)
}

func TestSplit_EdgeBlankTextIsKept(t *testing.T) {
	got := Split("  <b>x</b>\n")
	assert.Equal(t, []Segment{PlainText("  "), MarkupBlock("<b>x</b>"), PlainText("\n")}, got)
	assert.True(t, got[0].Blank())
}

func TestMerge_DoesNotAbsorbNonBlankText(t *testing.T) {
	in := []Segment{MarkupBlock("<a/>"), PlainText(" x "), MarkupBlock("<b/>")}
	assert.Equal(t, in, Merge(in))
}

func TestNew_CustomNamePattern(t *testing.T) {
	s, err := New(WithTagNamePattern(`think|say`))
	require.NoError(t, err)
	got := s.Split("<think>hmm</think>ok <div>plain</div>")
	assert.Equal(t, []Segment{
		MarkupBlock("<think>hmm</think>"),
		PlainText("ok <div>plain</div>"),
	}, got)

	_, err = New(WithTagNamePattern(`(bad)`))
	require.Error(t, err)
	_, err = New(WithTagNamePattern(`[`))
	require.Error(t, err)
}

func FuzzSplit_Lossless(f *testing.F) {
	for _, seed := range []string{
		"", "hi <div>x<span>y</span>z</div> bye", "<b>unterminated", "<!-- x", "a<!--b-->c",
		"<p>\n</p> <p/>", "</x></x><x>", "<h1 class='a'>t</h1>",
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, text string) {
		if !utf8.ValidString(text) {
			t.Skip()
		}
		raw := MustNew().SplitRaw(text)
		require.Equal(t, text, Join(raw))

		merged := Split(text)
		require.Equal(t, text, Join(merged))
		if text != "" {
			require.NotEmpty(t, merged)
		}
		for i := 1; i < len(merged); i++ {
			require.False(t, merged[i-1].IsMarkup() && merged[i].IsMarkup(), "adjacent markup blocks at %d", i)
		}
	})
}
