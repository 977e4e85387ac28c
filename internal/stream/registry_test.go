package stream

import (
	"testing"
	"time"

	"github.com/yegors/RTLSDR-Airband/internal/transport/transporttest"
)

func TestRegistryAddRemove(t *testing.T) {
	ln := transporttest.New(1316)
	sock, _ := ln.Socket()
	spyLn := sock.(*transporttest.Listener)

	r := NewRegistry()
	now := time.Now()

	c1 := spyLn.Connect()
	c2 := spyLn.Connect()
	s1 := r.Add(c1, now)
	s2 := r.Add(c2, now)

	if s1.ID == s2.ID {
		t.Error("Expected distinct session IDs")
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 sessions, got %d", r.Len())
	}
	if again := r.Add(c1, now); again != s1 {
		t.Error("Expected adding the same connection to return the existing session")
	}
	if r.Len() != 2 {
		t.Errorf("Expected duplicate add to keep 2 sessions, got %d", r.Len())
	}

	removed, err := r.Remove(s1.ID)
	if !removed || err != nil {
		t.Errorf("Expected removal, got removed=%v err=%v", removed, err)
	}
	if c1.Closes() != 1 {
		t.Errorf("Expected conn closed once, got %d", c1.Closes())
	}

	removed, _ = r.Remove(s1.ID)
	if removed {
		t.Error("Expected second removal to report false")
	}
	if c1.Closes() != 1 {
		t.Errorf("Expected conn still closed once, got %d", c1.Closes())
	}

	if _, ok := r.Get(s2.ID); !ok {
		t.Error("Expected remaining session to be found")
	}
}

func TestRegistryEachAllowsRemoval(t *testing.T) {
	ln := transporttest.New(1316)
	sock, _ := ln.Socket()
	spyLn := sock.(*transporttest.Listener)

	r := NewRegistry()
	for i := 0; i < 5; i++ {
		r.Add(spyLn.Connect(), time.Now())
	}

	visited := 0
	r.Each(func(s *Session) {
		visited++
		if s.ID%2 == 0 {
			r.Remove(s.ID)
		}
	})

	if visited != 5 {
		t.Errorf("Expected 5 visits, got %d", visited)
	}
	if r.Len() != 3 {
		t.Errorf("Expected 3 sessions left, got %d", r.Len())
	}
}

func TestRegistryCloseAllAndSnapshot(t *testing.T) {
	ln := transporttest.New(1316)
	sock, _ := ln.Socket()
	spyLn := sock.(*transporttest.Listener)

	r := NewRegistry()
	conns := []*transporttest.Conn{spyLn.Connect(), spyLn.Connect(), spyLn.Connect()}
	for _, c := range conns {
		r.Add(c, time.Now())
	}

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Expected 3 infos, got %d", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i-1].ID >= snap[i].ID {
			t.Errorf("Expected snapshot ordered by ID, got %d before %d", snap[i-1].ID, snap[i].ID)
		}
	}
	if snap[0].RemoteAddr != conns[0].RemoteAddr() {
		t.Errorf("Expected remote addr %s, got %s", conns[0].RemoteAddr(), snap[0].RemoteAddr)
	}

	seen := 0
	if n := r.CloseAll(func(*Session) { seen++ }); n != 3 || seen != 3 {
		t.Errorf("Expected 3 closed and 3 callbacks, got %d and %d", n, seen)
	}
	for i, c := range conns {
		if c.Closes() != 1 {
			t.Errorf("Conn %d: expected 1 close, got %d", i, c.Closes())
		}
	}
	if r.CloseAll(nil) != 0 {
		t.Error("Expected second CloseAll to close nothing")
	}
}
