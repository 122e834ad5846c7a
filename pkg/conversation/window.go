package conversation

// Window is a capacity-bounded FIFO of context records: the most recent part
// of a session's history that is handed to the generation backend.
//
// Pushing past capacity evicts the oldest record first. Window is not safe for
// concurrent use; the session that owns it serializes access.
type Window struct {
	capacity int
	records  []Record
}

// NewWindow creates an empty window. A capacity below zero is treated as zero,
// in which case every push is evicted immediately.
func NewWindow(capacity int) *Window {
	if capacity < 0 {
		capacity = 0
	}
	return &Window{capacity: capacity}
}

func (w *Window) Capacity() int {
	return w.capacity
}

func (w *Window) Len() int {
	return len(w.records)
}

// Push appends r and evicts from the front while the window is over capacity.
// It returns the evicted records, oldest first.
func (w *Window) Push(r Record) []Record {
	w.records = append(w.records, r)
	return w.evict()
}

// Seed replaces the contents with the tail of records that fits the capacity.
func (w *Window) Seed(records []Record) {
	if len(records) > w.capacity {
		records = records[len(records)-w.capacity:]
	}
	w.records = append(make([]Record, 0, w.capacity), records...)
}

// SetCapacity changes the capacity, evicting from the front if needed.
func (w *Window) SetCapacity(n int) []Record {
	if n < 0 {
		n = 0
	}
	w.capacity = n
	return w.evict()
}

func (w *Window) evict() []Record {
	over := len(w.records) - w.capacity
	if over <= 0 {
		return nil
	}
	evicted := append([]Record(nil), w.records[:over]...)
	for i := 0; i < over; i++ {
		w.records[i] = Record{}
	}
	w.records = w.records[over:]
	return evicted
}

// RemoveLast removes the k most recently pushed records and returns them in
// push order.
func (w *Window) RemoveLast(k int) []Record {
	if k <= 0 {
		return nil
	}
	if k > len(w.records) {
		k = len(w.records)
	}
	cut := len(w.records) - k
	removed := append([]Record(nil), w.records[cut:]...)
	for i := cut; i < len(w.records); i++ {
		w.records[i] = Record{}
	}
	w.records = w.records[:cut]
	return removed
}

// RemoveByID removes the record with the given id. Unknown ids are a no-op.
func (w *Window) RemoveByID(id string) bool {
	for i := range w.records {
		if w.records[i].ID != id {
			continue
		}
		copy(w.records[i:], w.records[i+1:])
		w.records[len(w.records)-1] = Record{}
		w.records = w.records[:len(w.records)-1]
		return true
	}
	return false
}

// UpdateTextByID replaces the text of the record with the given id.
func (w *Window) UpdateTextByID(id string, text string) bool {
	for i := range w.records {
		if w.records[i].ID == id {
			w.records[i].Text = text
			return true
		}
	}
	return false
}

func (w *Window) Contains(id string) bool {
	for i := range w.records {
		if w.records[i].ID == id {
			return true
		}
	}
	return false
}

func (w *Window) Clear() {
	w.records = nil
}

// Records returns a copy of the contents, oldest first.
func (w *Window) Records() []Record {
	return append([]Record(nil), w.records...)
}

// TailIDs returns the ids of the k most recent records, oldest first.
func (w *Window) TailIDs(k int) []string {
	if k > len(w.records) {
		k = len(w.records)
	}
	if k <= 0 {
		return nil
	}
	ret := make([]string, 0, k)
	for _, r := range w.records[len(w.records)-k:] {
		ret = append(ret, r.ID)
	}
	return ret
}
