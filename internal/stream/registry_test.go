package stream

import (
	"testing"
)

func stoppedProcessor(streamID, userID string) *Processor {
	return &Processor{
		ID:     streamID,
		UserID: userID,
		state:  StateStopped,
	}
}

func TestRegistryAddAndGet(t *testing.T) {
	r := NewRegistry()

	s := &Session{Processor: stoppedProcessor("s1", "u1")}
	if prev := r.Add("u1", s); prev != nil {
		t.Fatal("first add should not return a previous session")
	}

	if got := r.Get("s1"); got != s {
		t.Error("Get should return the registered session")
	}
	if r.Count() != 1 {
		t.Errorf("expected count 1, got %d", r.Count())
	}
}

func TestRegistryCollisionReturnsPrevious(t *testing.T) {
	r := NewRegistry()

	old := &Session{Processor: stoppedProcessor("s1", "u1")}
	r.Add("u1", old)

	replacement := &Session{Processor: stoppedProcessor("s1", "u2")}
	prev := r.Add("u2", replacement)

	if prev != old {
		t.Fatal("colliding add should return the replaced session")
	}
	if r.Get("s1") != replacement {
		t.Error("new session should own the stream id")
	}
	// Both indexes must agree: the old owner has nothing left.
	if ids := r.ListUser("u1"); len(ids) != 0 {
		t.Errorf("old owner should have no streams, got %v", ids)
	}
	if ids := r.ListUser("u2"); len(ids) != 1 {
		t.Errorf("new owner should have 1 stream, got %v", ids)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	s := &Session{Processor: stoppedProcessor("s1", "u1")}
	r.Add("u1", s)

	if got := r.Remove("u1", "s1"); got != s {
		t.Fatal("Remove should return the session")
	}
	if r.Get("s1") != nil {
		t.Error("removed stream still resolvable by id")
	}
	if got := r.Remove("u1", "s1"); got != nil {
		t.Error("second remove should return nil")
	}
}

func TestRegistryRemoveWrongUser(t *testing.T) {
	r := NewRegistry()
	r.Add("u1", &Session{Processor: stoppedProcessor("s1", "u1")})

	if got := r.Remove("u2", "s1"); got != nil {
		t.Error("a different user must not be able to remove the stream")
	}
	if r.Count() != 1 {
		t.Error("stream should still be registered")
	}
}

func TestRegistryRemoveUser(t *testing.T) {
	r := NewRegistry()
	r.Add("u1", &Session{Processor: stoppedProcessor("s1", "u1")})
	r.Add("u1", &Session{Processor: stoppedProcessor("s2", "u1")})
	r.Add("u2", &Session{Processor: stoppedProcessor("s3", "u2")})

	removed := r.RemoveUser("u1")
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed sessions, got %d", len(removed))
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 session left, got %d", r.Count())
	}
	if r.Get("s3") == nil {
		t.Error("other user's stream should survive")
	}
}

func TestRegistryRemoveAll(t *testing.T) {
	r := NewRegistry()
	r.Add("u1", &Session{Processor: stoppedProcessor("s1", "u1")})
	r.Add("u2", &Session{Processor: stoppedProcessor("s2", "u2")})

	removed := r.RemoveAll()
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed sessions, got %d", len(removed))
	}
	if r.Count() != 0 {
		t.Errorf("registry should be empty, count %d", r.Count())
	}
	if len(r.ListUser("u1"))+len(r.ListUser("u2")) != 0 {
		t.Error("user index should be empty")
	}
}
