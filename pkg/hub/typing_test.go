package hub

import (
	"testing"
	"time"
)

func TestTypingStartStop(t *testing.T) {
	tr := NewTypingTracker(3 * time.Second)

	tr.Start("c1", "alice")
	if !tr.IsTyping("c1", "alice") {
		t.Fatal("alice should be typing")
	}
	if tr.IsTyping("c1", "bob") {
		t.Fatal("bob never typed")
	}
	if tr.IsTyping("c2", "alice") {
		t.Fatal("typing state leaked across conversations")
	}

	tr.Stop("c1", "alice")
	if tr.IsTyping("c1", "alice") {
		t.Fatal("alice should have stopped")
	}
}

func TestTypingExpiresWithoutStop(t *testing.T) {
	tr := NewTypingTracker(3 * time.Second)
	base := time.Now()
	tr.now = func() time.Time { return base }

	tr.Start("c1", "alice")
	if !tr.IsTyping("c1", "alice") {
		t.Fatal("alice should be typing")
	}

	// Still inside the window.
	tr.now = func() time.Time { return base.Add(2 * time.Second) }
	if !tr.IsTyping("c1", "alice") {
		t.Fatal("typing expired too early")
	}

	// Past the TTL with no explicit stop.
	tr.now = func() time.Time { return base.Add(3*time.Second + time.Millisecond) }
	if tr.IsTyping("c1", "alice") {
		t.Fatal("typing did not expire")
	}
}

func TestTypingRestartRefreshesTTL(t *testing.T) {
	tr := NewTypingTracker(3 * time.Second)
	base := time.Now()
	tr.now = func() time.Time { return base }

	tr.Start("c1", "alice")
	tr.now = func() time.Time { return base.Add(2 * time.Second) }
	tr.Start("c1", "alice")

	tr.now = func() time.Time { return base.Add(4 * time.Second) }
	if !tr.IsTyping("c1", "alice") {
		t.Fatal("restart should have refreshed the TTL")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	tr := NewTypingTracker(3 * time.Second)
	tr.Stop("c1", "nobody")
	tr.Start("c1", "alice")
	tr.Stop("c1", "alice")
	tr.Stop("c1", "alice")
	if tr.IsTyping("c1", "alice") {
		t.Fatal("alice should not be typing")
	}
}
