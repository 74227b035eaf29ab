package network

import (
	"fmt"
	"testing"
	"time"
)

func TestDedupCheck(t *testing.T) {
	d := NewDedup(time.Minute)

	if !d.Check([]byte("a")) {
		t.Error("first sighting reported as duplicate")
	}

	if d.Check([]byte("a")) {
		t.Error("repeat not filtered")
	}

	if !d.Check([]byte("b")) {
		t.Error("distinct notice filtered")
	}
}

func TestDedupExpiry(t *testing.T) {
	d := NewDedup(time.Second)

	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	d.Check([]byte("a"))

	now = now.Add(500 * time.Millisecond)
	if d.Check([]byte("a")) {
		t.Error("notice forgotten before ttl")
	}

	now = now.Add(time.Second)
	if !d.Check([]byte("a")) {
		t.Error("notice remembered past ttl")
	}

	if d.Len() != 1 {
		t.Errorf("Len = %d, want 1", d.Len())
	}
}

func TestDedupCapacity(t *testing.T) {
	d := NewDedup(time.Hour)

	for i := 0; i < maxDedupEntries+10; i++ {
		d.Check([]byte(fmt.Sprint(i)))
	}

	if d.Len() != maxDedupEntries {
		t.Errorf("Len = %d, want %d", d.Len(), maxDedupEntries)
	}

	// The oldest entries were evicted.
	if !d.Check([]byte("0")) {
		t.Error("evicted entry still filtered")
	}
}

func BenchmarkDedupCheck(b *testing.B) {
	d := NewDedup(time.Minute)
	msgs := make([][]byte, 1024)
	for i := range msgs {
		msgs[i] = []byte(fmt.Sprintf("notice-%d", i))
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		d.Check(msgs[i%len(msgs)])
	}
}
