package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id string) Record {
	return Record{ID: id, Text: "text " + id, Role: RoleUser, Kind: ContentKindText, Visible: true}
}

func ids(records []Record) []string {
	ret := make([]string, 0, len(records))
	for _, r := range records {
		ret = append(ret, r.ID)
	}
	return ret
}

func TestWindow_PushEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for _, id := range []string{"A", "B", "C"} {
		assert.Empty(t, w.Push(rec(id)))
	}
	evicted := w.Push(rec("D"))

	assert.Equal(t, []string{"A"}, ids(evicted))
	assert.Equal(t, []string{"B", "C", "D"}, ids(w.Records()))
	assert.Equal(t, 3, w.Len())
}

func TestWindow_SetCapacityShrinks(t *testing.T) {
	w := NewWindow(5)
	for _, id := range []string{"A", "B", "C", "D"} {
		w.Push(rec(id))
	}
	evicted := w.SetCapacity(2)
	assert.Equal(t, []string{"A", "B"}, ids(evicted))
	assert.Equal(t, []string{"C", "D"}, ids(w.Records()))

	assert.Empty(t, w.SetCapacity(10))
	w.Push(rec("E"))
	assert.Equal(t, []string{"C", "D", "E"}, ids(w.Records()))
}

func TestWindow_ZeroCapacity(t *testing.T) {
	w := NewWindow(-1)
	assert.Equal(t, 0, w.Capacity())
	assert.Equal(t, []string{"A"}, ids(w.Push(rec("A"))))
	assert.Equal(t, 0, w.Len())
}

func TestWindow_RemoveLast(t *testing.T) {
	w := NewWindow(10)
	for _, id := range []string{"A", "B", "C", "D"} {
		w.Push(rec(id))
	}
	assert.Equal(t, []string{"C", "D"}, w.TailIDs(2))

	removed := w.RemoveLast(2)
	assert.Equal(t, []string{"C", "D"}, ids(removed))
	assert.Equal(t, []string{"A", "B"}, ids(w.Records()))

	assert.Empty(t, w.RemoveLast(0))
	assert.Equal(t, []string{"A", "B"}, ids(w.RemoveLast(7)))
	assert.Equal(t, 0, w.Len())
}

func TestWindow_TargetedMutations(t *testing.T) {
	w := NewWindow(10)
	for _, id := range []string{"A", "B", "C"} {
		w.Push(rec(id))
	}

	require.True(t, w.UpdateTextByID("B", "edited"))
	assert.False(t, w.UpdateTextByID("Z", "nope"))
	assert.Equal(t, "edited", w.Records()[1].Text)

	require.True(t, w.RemoveByID("B"))
	assert.False(t, w.RemoveByID("B"))
	assert.Equal(t, []string{"A", "C"}, ids(w.Records()))
	assert.False(t, w.Contains("B"))
	assert.True(t, w.Contains("C"))

	w.Clear()
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 10, w.Capacity())
}

func TestWindow_RecordsIsACopy(t *testing.T) {
	w := NewWindow(2)
	w.Push(rec("A"))
	out := w.Records()
	out[0].Text = "mutated"
	assert.Equal(t, "text A", w.Records()[0].Text)
}

func TestWindow_SeedTakesTail(t *testing.T) {
	w := NewWindow(2)
	w.Seed([]Record{rec("A"), rec("B"), rec("C")})
	assert.Equal(t, []string{"B", "C"}, ids(w.Records()))

	w.Seed([]Record{rec("X")})
	assert.Equal(t, []string{"X"}, ids(w.Records()))
}

func TestWindow_SizeNeverExceedsCapacity(t *testing.T) {
	w := NewWindow(4)
	for i := 0; i < 100; i++ {
		w.Push(rec(string(rune('a' + i%26))))
		require.LessOrEqual(t, w.Len(), w.Capacity())
		if i%7 == 0 {
			w.SetCapacity(1 + i%5)
			require.LessOrEqual(t, w.Len(), w.Capacity())
		}
	}
}
