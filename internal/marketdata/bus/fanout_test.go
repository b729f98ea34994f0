package bus

import (
	"context"
	"testing"
	"time"

	"trend-enginev1/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan model.Candle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Candle{Token: "3045", Exchange: "NSE", Open: 100, High: 110, Low: 90, Close: 105}

	for i, out := range []<-chan model.Candle{out1, out2} {
		select {
		case c := <-out:
			if c.Token != "3045" {
				t.Errorf("out%d: expected token 3045, got %s", i+1, c.Token)
			}
		case <-time.After(time.Second):
			t.Fatalf("out%d: timed out waiting for candle", i+1)
		}
	}
}

func TestFanOut_SlowConsumerDropsWithoutBlocking(t *testing.T) {
	fo := New(1)
	var drops []int
	dropped := make(chan struct{}, 10)
	fo.OnDrop = func(idx int) {
		drops = append(drops, idx)
		dropped <- struct{}{}
	}
	slow := fo.Subscribe()
	fast := fo.Subscribe()

	input := make(chan model.Candle, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	// Nobody reads slow; its 1-slot buffer fills after the first candle.
	input <- model.Candle{Token: "A"}
	input <- model.Candle{Token: "B"}

	// The fast consumer must still receive the second candle.
	got := 0
	for got < 2 {
		select {
		case <-fast:
			got++
		case <-time.After(time.Second):
			t.Fatalf("fast consumer starved: got %d of 2", got)
		}
	}

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("expected a drop callback for the slow consumer")
	}
	if len(drops) == 0 || drops[0] != 0 {
		t.Errorf("drops: got %v, want subscriber index 0", drops)
	}
	_ = slow
}

func TestFanOut_ClosesOutputsOnCancel(t *testing.T) {
	fo := New(10)
	out := fo.Subscribe()

	input := make(chan model.Candle)
	ctx, cancel := context.WithCancel(context.Background())
	go fo.Run(ctx, input)

	cancel()
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected closed channel, got a candle")
		}
	case <-time.After(time.Second):
		t.Fatal("output not closed after cancel")
	}
}
