package detection

import "sync"

// resequencer enforces strictly increasing frame_index delivery out of a
// worker pool that may complete frames out of order. It is only needed when
// workers_per_camera > 1; with a single worker per camera, completions are
// already in order and the resequencer is a pass-through.
//
// Frames that were dropped at enqueue time (never handed to a worker) must
// be reported via Skip so the resequencer does not wait forever for an
// index that will never arrive.
type resequencer struct {
	mu      sync.Mutex
	next    int64
	pending map[int64]func()
}

func newResequencer() *resequencer {
	return &resequencer{pending: make(map[int64]func())}
}

// Ready registers emit to run once every frame_index below idx has either
// been emitted or skipped, then runs it (and any now-unblocked successors)
// in order. emit must not block.
func (r *resequencer) Ready(idx int64, emit func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx != r.next {
		r.pending[idx] = emit
		return
	}
	r.emitFrom(idx, emit)
}

// Skip marks idx as never arriving (the frame was dropped before reaching a
// worker), unblocking anything waiting behind it.
func (r *resequencer) Skip(idx int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx != r.next {
		r.pending[idx] = nil
		return
	}
	r.emitFrom(idx, nil)
}

// emitFrom runs fn (if non-nil) for idx, then walks forward through any
// contiguous pending entries, emitting or skipping each in turn. Caller
// holds r.mu.
func (r *resequencer) emitFrom(idx int64, fn func()) {
	if fn != nil {
		fn()
	}
	r.next = idx + 1

	for {
		next, ok := r.pending[r.next]
		if !ok {
			return
		}
		delete(r.pending, r.next)
		if next != nil {
			next()
		}
		r.next++
	}
}
