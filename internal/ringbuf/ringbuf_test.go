package ringbuf

import (
	"sync"
	"testing"

	"trend-enginev1/internal/model"
)

func tick(token string, seq int64) model.TickRecord {
	return model.TickRecord{Token: token, SequenceNumber: seq}
}

func TestRing_BasicPushPop(t *testing.T) {
	r := New(4)

	if !r.Push(tick("A", 1)) {
		t.Fatal("push A should succeed")
	}
	if !r.Push(tick("B", 2)) {
		t.Fatal("push B should succeed")
	}
	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got, ok := r.Pop()
	if !ok || got.Token != "A" {
		t.Fatalf("expected A, got %v ok=%v", got.Token, ok)
	}
	got, ok = r.Pop()
	if !ok || got.Token != "B" {
		t.Fatalf("expected B, got %v ok=%v", got.Token, ok)
	}
	if _, ok = r.Pop(); ok {
		t.Fatal("pop from empty should return false")
	}
}

func TestRing_CapacityRoundsToPowerOfTwo(t *testing.T) {
	r := New(5)
	if r.Cap() != 8 {
		t.Fatalf("expected cap=8, got %d", r.Cap())
	}
}

func TestRing_Overflow(t *testing.T) {
	r := New(2)

	r.Push(tick("1", 1))
	r.Push(tick("2", 2))

	if r.Push(tick("3", 3)) {
		t.Fatal("push to full buffer should return false")
	}
	if r.Overflow() != 1 {
		t.Fatalf("expected overflow=1, got %d", r.Overflow())
	}
}

func TestRing_Wraparound(t *testing.T) {
	r := New(4)

	for round := 0; round < 5; round++ {
		for i := 0; i < 4; i++ {
			if !r.Push(tick("X", int64(round*10+i))) {
				t.Fatalf("round %d push %d failed", round, i)
			}
		}
		for i := 0; i < 4; i++ {
			rec, ok := r.Pop()
			if !ok {
				t.Fatalf("round %d pop %d failed", round, i)
			}
			if rec.SequenceNumber != int64(round*10+i) {
				t.Fatalf("round %d pop %d: expected seq=%d, got %d", round, i, round*10+i, rec.SequenceNumber)
			}
		}
	}
}

func TestRing_SPSC_Concurrent(t *testing.T) {
	const count = 100_000
	r := New(1024)

	var wg sync.WaitGroup
	wg.Add(2)

	// Producer
	go func() {
		defer wg.Done()
		for i := 0; i < count; i++ {
			for !r.Push(tick("X", int64(i))) {
				// spin-wait (busy loop for test only)
			}
		}
	}()

	// Consumer
	received := make([]int64, 0, count)
	go func() {
		defer wg.Done()
		for len(received) < count {
			rec, ok := r.Pop()
			if !ok {
				continue
			}
			received = append(received, rec.SequenceNumber)
		}
	}()

	wg.Wait()

	if len(received) != count {
		t.Fatalf("expected %d records, got %d", count, len(received))
	}
	for i, seq := range received {
		if seq != int64(i) {
			t.Fatalf("order violated at %d: got seq=%d", i, seq)
		}
	}
}
