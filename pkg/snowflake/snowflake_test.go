package snowflake

import (
	"testing"
	"time"
)

func TestGenerateMonotonic(t *testing.T) {
	node, err := NewNode(1)
	if err != nil {
		t.Fatal(err)
	}

	prev := node.Generate()
	for i := 0; i < 10000; i++ {
		id := node.Generate()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestNodeRange(t *testing.T) {
	if _, err := NewNode(-1); err == nil {
		t.Fatal("negative node id accepted")
	}
	if _, err := NewNode(1024); err == nil {
		t.Fatal("node id 1024 accepted")
	}
	if _, err := NewNode(1023); err != nil {
		t.Fatalf("node id 1023 rejected: %v", err)
	}
}

func TestTimeEmbedding(t *testing.T) {
	node, _ := NewNode(5)
	before := time.Now().Truncate(time.Millisecond)
	id := node.Generate()
	after := time.Now()

	ts := Time(id)
	if ts.Before(before.Add(-time.Millisecond)) || ts.After(after.Add(time.Millisecond)) {
		t.Fatalf("embedded time %v outside [%v, %v]", ts, before, after)
	}
}

func TestClockRollback(t *testing.T) {
	node, _ := NewNode(1)
	times := []int64{1000, 999, 999, 1001}
	i := 0
	node.now = func() int64 {
		v := times[i%len(times)]
		if i < len(times)-1 {
			i++
		}
		return v
	}

	prev := node.Generate()
	for j := 0; j < 3; j++ {
		id := node.Generate()
		if id <= prev {
			t.Fatalf("rollback produced non-increasing id %d after %d", id, prev)
		}
		prev = id
	}
}
