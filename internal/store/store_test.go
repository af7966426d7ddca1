package store

import (
	"path/filepath"
	"testing"

	"github.com/lucidfs/davsync/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stringPtr(s string) *string { return &s }
func int64Ptr(n int64) *int64    { return &n }

func mustAddAccount(t *testing.T, s *Store) types.Account {
	t.Helper()
	a, err := s.AddAccount("https://example.com/api/", "romeo")
	if err != nil {
		t.Fatalf("AddAccount() error = %v", err)
	}
	return a
}

// S1 — Insert deep resource.
func TestUpdate_InsertDeepResource(t *testing.T) {
	s := openTestStore(t)
	acct := mustAddAccount(t, s)

	cs, err := s.Update(acct.ID, types.Path{"a", "b", "c"}, &types.Properties{
		IsCollection:  false,
		Version:       "123",
		ContentType:   stringPtr("application/pdf"),
		ContentLength: int64Ptr(55555),
	}, nil)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if len(cs.Deleted) != 0 {
		t.Fatalf("expected no deletions, got %d", len(cs.Deleted))
	}
	if len(cs.InsertedOrUpdated) != 4 {
		t.Fatalf("expected 4 insertedOrUpdated entries (ancestors [],[a],[a,b] + leaf), got %d", len(cs.InsertedOrUpdated))
	}

	for _, r := range cs.InsertedOrUpdated {
		if r.Path.Equal(types.Path{"a", "b", "c"}) {
			if r.Dirty {
				t.Error("leaf should not be dirty")
			}
			if r.IsCollection {
				t.Error("leaf should not be a collection")
			}
			if r.Version != "123" {
				t.Errorf("expected version 123, got %s", r.Version)
			}
		} else {
			if !r.Dirty || !r.IsCollection {
				t.Errorf("ancestor %v expected dirty collection, got dirty=%v collection=%v", r.Path, r.Dirty, r.IsCollection)
			}
		}
	}

	for _, p := range []types.Path{{"a"}, {"a", "b"}} {
		r, err := s.Resource(acct.ID, p)
		if err != nil {
			t.Fatalf("Resource(%v) error = %v", p, err)
		}
		if r == nil || !r.IsCollection || !r.Dirty {
			t.Errorf("ancestor %v not materialized as dirty collection", p)
		}
	}

	contents, err := s.Contents(acct.ID, types.Path{"a", "b"})
	if err != nil {
		t.Fatalf("Contents() error = %v", err)
	}
	if len(contents) != 1 || !contents[0].Path.Equal(types.Path{"a", "b", "c"}) {
		t.Fatalf("expected contents [[a,b,c]], got %v", contents)
	}
}

// S3 — Type change prunes descendants.
func TestUpdate_TypeChangePrunesDescendants(t *testing.T) {
	s := openTestStore(t)
	acct := mustAddAccount(t, s)

	if _, err := s.Update(acct.ID, types.Path{"a", "b", "c"}, &types.Properties{
		IsCollection: false, Version: "1",
	}, nil); err != nil {
		t.Fatalf("seed Update() error = %v", err)
	}

	cs, err := s.Update(acct.ID, types.Path{"a", "b"}, &types.Properties{
		IsCollection: false, Version: "567",
	}, nil)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if len(cs.Deleted) == 0 {
		t.Fatal("expected deletion of previous subtree")
	}

	r, err := s.Resource(acct.ID, types.Path{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Resource() error = %v", err)
	}
	if r != nil {
		t.Errorf("expected [a,b,c] to be pruned, got %+v", r)
	}

	contents, err := s.Contents(acct.ID, types.Path{"a", "b"})
	if err != nil {
		t.Fatalf("Contents() error = %v", err)
	}
	if len(contents) != 0 {
		t.Errorf("expected no contents under [a,b], got %v", contents)
	}
}

// Invariant 3 — Idempotent property write.
func TestUpdate_IdempotentWriteIsNoOp(t *testing.T) {
	s := openTestStore(t)
	acct := mustAddAccount(t, s)

	props := &types.Properties{IsCollection: false, Version: "1"}
	if _, err := s.Update(acct.ID, types.Path{"a"}, props, nil); err != nil {
		t.Fatalf("first Update() error = %v", err)
	}
	cs, err := s.Update(acct.ID, types.Path{"a"}, props, nil)
	if err != nil {
		t.Fatalf("second Update() error = %v", err)
	}
	if !cs.Empty() {
		t.Errorf("expected empty change set on repeat write, got %+v", cs)
	}
}

// Invariant 4 — Version-invalidates-body.
func TestUpdate_VersionChangeInvalidatesBody(t *testing.T) {
	s := openTestStore(t)
	acct := mustAddAccount(t, s)

	if _, err := s.Update(acct.ID, types.Path{"f"}, &types.Properties{
		IsCollection: false, Version: "1",
	}, nil); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	tmp := filepath.Join(t.TempDir(), "body")
	if err := writeFile(tmp, []byte("hello")); err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}
	if _, err := s.MoveFile(tmp, "1", types.ResourceID{AccountID: acct.ID, Path: types.Path{"f"}}); err != nil {
		t.Fatalf("MoveFile() error = %v", err)
	}

	r, err := s.Resource(acct.ID, types.Path{"f"})
	if err != nil {
		t.Fatalf("Resource() error = %v", err)
	}
	if r.FileState.Kind != types.FileStatePresent {
		t.Fatalf("expected present file state, got %v", r.FileState.Kind)
	}
	localPath := r.FileState.LocalPath

	if _, err := s.Update(acct.ID, types.Path{"f"}, &types.Properties{
		IsCollection: false, Version: "2",
	}, nil); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	r, err = s.Resource(acct.ID, types.Path{"f"})
	if err != nil {
		t.Fatalf("Resource() error = %v", err)
	}
	if r.FileState.Kind != types.FileStateAbsent {
		t.Errorf("expected absent file state after version change, got %v", r.FileState.Kind)
	}
	if fileExists(localPath) {
		t.Errorf("expected prior body file %s to be removed", localPath)
	}
}

// Invariant 6 — Account removal isolation.
func TestRemoveAccount_Isolation(t *testing.T) {
	s := openTestStore(t)
	a1, err := s.AddAccount("https://one.example.com/", "u1")
	if err != nil {
		t.Fatalf("AddAccount() error = %v", err)
	}
	a2, err := s.AddAccount("https://two.example.com/", "u2")
	if err != nil {
		t.Fatalf("AddAccount() error = %v", err)
	}

	if _, err := s.Update(a1.ID, types.Path{"x"}, &types.Properties{IsCollection: false, Version: "1"}, nil); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := s.Update(a2.ID, types.Path{"y"}, &types.Properties{IsCollection: false, Version: "1"}, nil); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if err := s.RemoveAccount(a1.ID); err != nil {
		t.Fatalf("RemoveAccount() error = %v", err)
	}

	r, err := s.Resource(a2.ID, types.Path{"y"})
	if err != nil {
		t.Fatalf("Resource() error = %v", err)
	}
	if r == nil {
		t.Error("expected account two's resource to survive account one's removal")
	}

	r, err = s.Resource(a1.ID, types.Path{"x"})
	if err != nil {
		t.Fatalf("Resource() error = %v", err)
	}
	if r != nil {
		t.Error("expected removed account's resource to be gone")
	}
}

// Invariant 7 — Change-set disjointness.
func TestUpdate_ChangeSetDisjoint(t *testing.T) {
	s := openTestStore(t)
	acct := mustAddAccount(t, s)

	if _, err := s.Update(acct.ID, types.Path{"a", "b", "c"}, &types.Properties{IsCollection: false, Version: "1"}, nil); err != nil {
		t.Fatalf("seed Update() error = %v", err)
	}
	if _, err := s.Update(acct.ID, types.Path{"a", "b", "x", "y"}, &types.Properties{IsCollection: false, Version: "1"}, nil); err != nil {
		t.Fatalf("seed Update() error = %v", err)
	}

	cs, err := s.Update(acct.ID, types.Path{"a", "b"}, &types.Properties{IsCollection: true, Version: "123"}, map[string]types.Properties{
		"1": {IsCollection: true, Version: "a"},
		"2": {IsCollection: false, Version: "b"},
		"3": {IsCollection: false, Version: "c"},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	seen := make(map[string]bool)
	for _, r := range cs.InsertedOrUpdated {
		key := r.AccountID + "|" + encodePathKey(r.Path)
		seen[key] = true
	}
	for _, r := range cs.Deleted {
		key := r.AccountID + "|" + encodePathKey(r.Path)
		if seen[key] {
			t.Errorf("path %v present in both insertedOrUpdated and deleted", r.Path)
		}
	}
}

func writeFile(path string, data []byte) error {
	return writeFileImpl(path, data)
}
