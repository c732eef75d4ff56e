package poller

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	unix.SetNonblock(fds[0], true)
	unix.SetNonblock(fds[1], true)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func findEvent(events []Event, fd int) (Event, bool) {
	for _, ev := range events {
		if ev.Fd == fd {
			return ev, true
		}
	}
	return Event{}, false
}

func TestPollerReadable(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	a, b := socketPair(t)
	if err := p.Add(a, Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}

	events, err := p.Wait(0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if _, ok := findEvent(events, a); ok {
		t.Fatal("Expected no event before data is written")
	}

	unix.Write(b, []byte("ping"))

	events, err = p.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	ev, ok := findEvent(events, a)
	if !ok || !ev.Readable {
		t.Fatalf("Expected readable event for fd %d, got %+v", a, events)
	}
}

func TestPollerModifyWritable(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	a, _ := socketPair(t)
	if err := p.Add(a, Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Modify(a, Readable|Writable); err != nil {
		t.Fatalf("Modify: %v", err)
	}

	events, err := p.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Fd == a && ev.Writable {
			found = true
		}
	}
	if !found {
		t.Fatalf("Expected writable event for fd %d, got %+v", a, events)
	}
}

func TestPollerRemove(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	a, b := socketPair(t)
	p.Add(a, Readable)
	if err := p.Remove(a); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	unix.Write(b, []byte("ping"))

	events, _ := p.Wait(50)
	if _, ok := findEvent(events, a); ok {
		t.Error("Expected no events after Remove")
	}
}

func TestWakerInterruptsWait(t *testing.T) {
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	w, err := NewWaker(p)
	if err != nil {
		t.Fatalf("NewWaker: %v", err)
	}
	defer w.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		w.Wake()
	}()

	start := time.Now()
	events, err := p.Wait(5000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if _, ok := findEvent(events, w.Fd()); !ok {
		t.Fatalf("Expected waker event, got %+v", events)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Wait was not interrupted in time")
	}

	w.Drain()
	events, _ = p.Wait(0)
	if _, ok := findEvent(events, w.Fd()); ok {
		t.Error("Expected waker to be drained")
	}
}
