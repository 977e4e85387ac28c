package transport

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSendQueueWouldBlockWhenFull(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var written [][]byte

	write := func(p []byte) error {
		<-release
		mu.Lock()
		written = append(written, append([]byte(nil), p...))
		mu.Unlock()
		return nil
	}

	q := newSendQueue(1, 16, write, func(error) {})

	// First chunk is picked up by the writer and blocks there
	if err := q.enqueue([]byte("a")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// Wait until the writer holds the first chunk so the queue is empty again
	deadline := time.Now().Add(time.Second)
	for len(q.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := q.enqueue([]byte("b")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := q.enqueue([]byte("c")); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("Expected ErrWouldBlock, got %v", err)
	}

	close(release)

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(written)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	q.stop()
	q.wait()

	mu.Lock()
	defer mu.Unlock()
	if len(written) != 2 || string(written[0]) != "a" || string(written[1]) != "b" {
		t.Errorf("Unexpected writes: %q", written)
	}
}

func TestSendQueueReportsWriteFailure(t *testing.T) {
	failed := make(chan error, 1)
	boom := errors.New("broken pipe")

	q := newSendQueue(4, 16, func([]byte) error { return boom }, func(err error) { failed <- err })
	defer func() {
		q.stop()
		q.wait()
	}()

	if err := q.enqueue([]byte("x")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case err := <-failed:
		if !errors.Is(err, boom) {
			t.Errorf("Expected boom, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Write failure not reported")
	}
}

func TestSendQueueClosed(t *testing.T) {
	q := newSendQueue(1, 16, func([]byte) error { return nil }, func(error) {})
	q.stop()
	q.stop()
	q.wait()

	if err := q.enqueue([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
