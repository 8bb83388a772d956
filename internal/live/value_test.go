package live

import (
	"context"
	"testing"
	"time"
)

func TestSubscribeReplaysCurrentValue(t *testing.T) {
	v := New("a")
	var got []string
	unsubscribe := v.Subscribe(func(s string) { got = append(got, s) })
	defer unsubscribe()

	v.Set("b")
	v.Emit()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "b" {
		t.Fatalf("unexpected sequence: %#v", got)
	}
}

func TestSubscribersSeeSameSequence(t *testing.T) {
	v := New(0)
	var a, b []int
	ua := v.Subscribe(func(n int) { a = append(a, n) })
	ub := v.Subscribe(func(n int) { b = append(b, n) })
	defer ua()
	defer ub()

	for i := 1; i <= 5; i++ {
		v.Update(func(cur *int) { *cur = *cur + i })
	}
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sequence mismatch at %d: %v vs %v", i, a, b)
		}
	}
}

func TestUnsubscribeAndClose(t *testing.T) {
	v := New(1)
	calls := 0
	unsubscribe := v.Subscribe(func(int) { calls++ })
	unsubscribe()
	unsubscribe()
	v.Set(2)
	if calls != 1 {
		t.Fatalf("expected only the replay call, got %d", calls)
	}

	v.Subscribe(func(int) { calls++ })
	v.Close()
	v.Close()
	v.Set(3)
	if calls != 2 {
		t.Fatalf("closed value should not emit, calls=%d", calls)
	}
	if v.Subscribers() != 0 || !v.Closed() {
		t.Fatalf("expected closed value without subscribers")
	}
	if got := v.Get(); got != 3 {
		t.Fatalf("Get() = %d, want 3", got)
	}
}

func TestWatchStopsOnClose(t *testing.T) {
	v := New("x")
	ch := v.Watch(context.Background(), 4)
	select {
	case got := <-ch:
		if got != "x" {
			t.Fatalf("first watched value = %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for replay")
	}
	v.Set("y")
	v.Close()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("watch channel not closed")
		}
	}
}

func TestWatchStopsOnContext(t *testing.T) {
	v := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := v.Watch(ctx, 1)
	<-ch
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// a value raced in before cancellation; the next read must close
			if _, ok := <-ch; ok {
				t.Fatalf("expected closed channel")
			}
		}
	case <-time.After(time.Second):
		t.Fatalf("watch channel not closed after cancel")
	}
	if v.Subscribers() != 0 {
		t.Fatalf("subscription leaked")
	}
}
