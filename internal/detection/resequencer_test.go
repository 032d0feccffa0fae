package detection

import "testing"

func TestResequencerEmitsInOrder(t *testing.T) {
	r := newResequencer()
	var order []int64

	r.Ready(2, func() { order = append(order, 2) })
	r.Ready(0, func() { order = append(order, 0) })
	r.Ready(1, func() { order = append(order, 1) })

	if len(order) != 3 {
		t.Fatalf("expected 3 emissions, got %d: %v", len(order), order)
	}
	for i, v := range order {
		if v != int64(i) {
			t.Fatalf("expected order [0 1 2], got %v", order)
		}
	}
}

func TestResequencerSkipUnblocksSuccessors(t *testing.T) {
	r := newResequencer()
	var order []int64

	r.Ready(1, func() { order = append(order, 1) })
	r.Skip(0) // frame 0 was dropped before reaching a worker

	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("expected frame 1 to emit after frame 0 was skipped, got %v", order)
	}
}
