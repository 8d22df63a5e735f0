package telemetry

// DefaultRingSize is how many diagnostic lines a failure report keeps.
const DefaultRingSize = 50

// Ring keeps the most recent lines pushed into it. It is not safe for
// concurrent use; the supervisor guards it with its state lock.
type Ring struct {
	lines []string
	start int
	size  int
}

// NewRing returns a ring holding at most capacity lines.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &Ring{lines: make([]string, capacity)}
}

// Push appends line, evicting the oldest entry when full.
func (r *Ring) Push(line string) {
	capacity := len(r.lines)
	if r.size < capacity {
		r.lines[(r.start+r.size)%capacity] = line
		r.size++
		return
	}
	r.lines[r.start] = line
	r.start = (r.start + 1) % capacity
}

// Len returns the number of buffered lines.
func (r *Ring) Len() int { return r.size }

// Lines returns buffered lines oldest first.
func (r *Ring) Lines() []string {
	return r.Last(r.size)
}

// Last returns up to n of the newest lines, oldest first.
func (r *Ring) Last(n int) []string {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]string, n)
	offset := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.lines[(r.start+offset+i)%len(r.lines)]
	}
	return out
}

// Reset drops every buffered line.
func (r *Ring) Reset() {
	clear(r.lines)
	r.start = 0
	r.size = 0
}
