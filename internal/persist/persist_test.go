package persist

import (
	"os"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := New(root, "manager-1")

	data := []byte("block payload")
	if err := s.Save(TypeBlocks, 1, "deadbeef", data); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	got, err := s.Load(TypeBlocks, 1, "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error loading: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("expected %q, got %q", data, got)
	}
}

func TestLoadMissingReturnsNotExist(t *testing.T) {
	s := New(t.TempDir(), "manager-1")
	if _, err := s.Load(TypeBlocks, 1, "missing"); !os.IsNotExist(err) {
		t.Errorf("expected IsNotExist error, got %v", err)
	}
}

func TestLoadQuarantinesEmptyFile(t *testing.T) {
	root := t.TempDir()
	s := New(root, "manager-1")

	if err := s.Save(TypeTransactions, 2, "abc123", nil); err != nil {
		t.Fatalf("unexpected error saving empty record: %v", err)
	}

	if _, err := s.Load(TypeTransactions, 2, "abc123"); err == nil {
		t.Fatalf("expected an empty record to be rejected")
	}

	if _, err := os.Stat(s.path(TypeTransactions, 2, "abc123") + ".corrupt"); err != nil {
		t.Errorf("expected the empty file to be quarantined with a .corrupt suffix: %v", err)
	}
	if _, err := os.Stat(s.path(TypeTransactions, 2, "abc123")); !os.IsNotExist(err) {
		t.Errorf("expected the original path to no longer exist after quarantine")
	}
}

func TestReplaceOverwrites(t *testing.T) {
	s := New(t.TempDir(), "manager-1")
	s.Save(TypePeers, 1, "peer1", []byte("v1"))
	if err := s.Replace(TypePeers, 1, "peer1", []byte("v2")); err != nil {
		t.Fatalf("unexpected error replacing: %v", err)
	}
	got, err := s.Load(TypePeers, 1, "peer1")
	if err != nil {
		t.Fatalf("unexpected error loading: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("expected replaced content v2, got %q", got)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := New(t.TempDir(), "manager-1")
	s.Save(TypeBlocks, 1, "x", []byte("y"))
	if err := s.Remove(TypeBlocks, 1, "x"); err != nil {
		t.Fatalf("unexpected error on first remove: %v", err)
	}
	if err := s.Remove(TypeBlocks, 1, "x"); err != nil {
		t.Fatalf("expected removing an already-removed record to be a no-op, got %v", err)
	}
}

func TestListFiltersTempAndCorruptFiles(t *testing.T) {
	root := t.TempDir()
	s := New(root, "manager-1")
	s.Save(TypeBlocks, 1, "aa", []byte("1"))
	s.Save(TypeBlocks, 1, "bb", []byte("2"))
	s.Save(TypeBlocks, 1, "cc", nil) // will be quarantined on Load
	s.Load(TypeBlocks, 1, "cc")

	ids, err := s.List(TypeBlocks, 1)
	if err != nil {
		t.Fatalf("unexpected error listing: %v", err)
	}
	want := map[string]bool{"aa": true, "bb": true}
	got := map[string]bool{}
	for _, id := range ids {
		got[id] = true
	}
	if len(got) != len(want) {
		t.Fatalf("expected exactly %v, got %v", want, got)
	}
	for id := range want {
		if !got[id] {
			t.Errorf("expected %q to be listed", id)
		}
	}
}

func TestListOnMissingDirReturnsEmpty(t *testing.T) {
	s := New(t.TempDir(), "manager-1")
	ids, err := s.List(TypeBlocks, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no ids for a never-written type/version, got %v", ids)
	}
}

func TestClearRemovesEntireVersion(t *testing.T) {
	root := t.TempDir()
	s := New(root, "manager-1")
	s.Save(TypeBlocks, 1, "a", []byte("1"))
	s.Save(TypeBlocks, 1, "b", []byte("2"))

	if err := s.Clear(TypeBlocks, 1); err != nil {
		t.Fatalf("unexpected error clearing: %v", err)
	}
	ids, err := s.List(TypeBlocks, 1)
	if err != nil {
		t.Fatalf("unexpected error listing after clear: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no ids after Clear, got %v", ids)
	}
}
