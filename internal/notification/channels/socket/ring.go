package socket

import "sync"

// ring keeps the most recent frames for reconnecting clients. When full the
// oldest frame is overwritten.
type ring struct {
	mu       sync.Mutex
	frames   []Frame
	head     int
	count    int
	capacity int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = defaultReplaySize
	}
	return &ring{frames: make([]Frame, capacity), capacity: capacity}
}

func (r *ring) push(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count < r.capacity {
		r.count++
	}
	r.frames[r.head] = f
	r.head = (r.head + 1) % r.capacity
}

// since returns buffered frames with Seq greater than seq, oldest first.
func (r *ring) since(seq uint64) []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, 0, r.count)
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		f := r.frames[(start+i)%r.capacity]
		if f.Seq > seq {
			out = append(out, f)
		}
	}
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
