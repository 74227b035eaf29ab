package storage

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

// newTestStore opens an on-disk store in a temp dir, closed at cleanup.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

func TestSetGetDelete(t *testing.T) {
	s := newTestStore(t)

	key := []byte("seq:alice")

	if got, err := s.Get(key); err != nil || got != nil {
		t.Fatalf("Get on missing key = %q, %v", got, err)
	}

	if err := s.Set(key, []byte("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := s.Set(key, []byte("2")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(key)
	if err != nil || !bytes.Equal(got, []byte("2")) {
		t.Fatalf("Get = %q, %v", got, err)
	}

	ok, err := s.Has(key)
	if err != nil || !ok {
		t.Fatalf("Has = %v, %v", ok, err)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if ok, _ := s.Has(key); ok {
		t.Error("key still present after Delete")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := newTestStore(t)

	s.Set([]byte("k"), []byte("value"))

	got, _ := s.Get([]byte("k"))
	got[0] = 'X'

	again, _ := s.Get([]byte("k"))
	if string(again) != "value" {
		t.Errorf("stored value changed to %q", again)
	}
}

func TestBatchAtomic(t *testing.T) {
	s := newTestStore(t)

	s.Set([]byte("old"), []byte("x"))

	b := s.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	b.Set([]byte("b"), []byte("2"))
	b.Delete([]byte("old"))

	if b.Len() != 3 {
		t.Errorf("Len = %d", b.Len())
	}

	if got, _ := s.Get([]byte("a")); got != nil {
		t.Fatal("batch visible before commit")
	}

	if err := b.Commit(true); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	for _, k := range []string{"a", "b"} {
		if ok, _ := s.Has([]byte(k)); !ok {
			t.Errorf("%s missing after commit", k)
		}
	}

	if ok, _ := s.Has([]byte("old")); ok {
		t.Error("deleted key present after commit")
	}
}

func TestBatchDiscard(t *testing.T) {
	s := newTestStore(t)

	b := s.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	b.Discard()

	if ok, _ := s.Has([]byte("a")); ok {
		t.Error("discarded batch was applied")
	}
}

func TestIteratePrefix(t *testing.T) {
	s := newTestStore(t)

	keys := []string{"set:b", "set:a", "seq:a", "set:c", "sf"}
	for _, k := range keys {
		s.Set([]byte(k), []byte(k))
	}

	var seen []string

	err := s.IteratePrefix([]byte("set:"), func(key, value []byte) error {
		seen = append(seen, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix: %v", err)
	}

	want := []string{"set:a", "set:b", "set:c"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("seen %v, want %v", seen, want)
	}

	stop := errors.New("stop")
	count := 0

	err = s.IteratePrefix([]byte("set:"), func(key, value []byte) error {
		count++
		return stop
	})
	if !errors.Is(err, stop) || count != 1 {
		t.Errorf("early stop: err %v count %d", err, count)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	tests := []struct {
		prefix []byte
		want   []byte
	}{
		{[]byte("abc"), []byte("abd")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
	}

	for _, tt := range tests {
		if got := prefixUpperBound(tt.prefix); !bytes.Equal(got, tt.want) {
			t.Errorf("prefixUpperBound(%x) = %x, want %x", tt.prefix, got, tt.want)
		}
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")

	s, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	s.Set([]byte("tx:1"), []byte("settled"))

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(Options{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if got, _ := s.Get([]byte("tx:1")); string(got) != "settled" {
		t.Errorf("after reopen Get = %q", got)
	}
}

func TestClosedStore(t *testing.T) {
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	s.Close()

	if err := s.Set([]byte("k"), []byte("v")); !errors.Is(err, ErrClosed) {
		t.Errorf("Set after close: %v", err)
	}

	if _, err := s.Get([]byte("k")); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after close: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Error("expected error without a path")
	}
}
