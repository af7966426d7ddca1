package store

import (
	"context"
	"database/sql"
	"os"
	"time"

	syncerrors "github.com/lucidfs/davsync/internal/errors"
	"github.com/lucidfs/davsync/internal/types"
)

// Update is the Store's central mutator: the property-tree update
// algorithm. properties == nil deletes the resource (and its subtree, if
// any) at path; otherwise properties replaces the resource's own
// attributes and, if children is non-nil, replaces its direct-child set.
func (s *Store) Update(accountID string, path types.Path, properties *types.Properties, children map[string]types.Properties) (types.ChangeSet, error) {
	if err := validatePath(path); err != nil {
		return types.ChangeSet{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return types.ChangeSet{}, syncerrors.Storage("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cs types.ChangeSet
	if properties == nil {
		cs, err = s.deleteResource(tx, accountID, path)
	} else {
		cs, err = s.writeResource(tx, accountID, path, *properties, children)
	}
	if err != nil {
		return types.ChangeSet{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.ChangeSet{}, syncerrors.Storage("failed to commit update", err)
	}
	return cs, nil
}

func validatePath(path types.Path) error {
	for _, c := range path {
		if c == "" {
			return syncerrors.InvalidArgument("path contains an empty component")
		}
	}
	return nil
}

// deleteResource implements step 1: delete p and its subtree, marking
// ancestors dirty (materializing them if needed).
func (s *Store) deleteResource(tx *sql.Tx, accountID string, path types.Path) (types.ChangeSet, error) {
	deleted, err := s.deleteSubtreeTx(tx, accountID, path)
	if err != nil {
		return types.ChangeSet{}, err
	}

	var cs types.ChangeSet
	cs.Deleted = deleted

	if len(deleted) > 0 {
		touched, err := s.markAncestorsDirty(tx, accountID, path)
		if err != nil {
			return types.ChangeSet{}, err
		}
		cs.InsertedOrUpdated = append(cs.InsertedOrUpdated, touched...)
	}
	return cs, nil
}

// writeResource implements step 2 of the property-tree update algorithm.
func (s *Store) writeResource(tx *sql.Tx, accountID string, path types.Path, props types.Properties, children map[string]types.Properties) (types.ChangeSet, error) {
	var cs types.ChangeSet

	// 2a. Materialize ancestors.
	materialized, err := s.materializeAncestors(tx, accountID, path)
	if err != nil {
		return types.ChangeSet{}, err
	}
	cs.InsertedOrUpdated = append(cs.InsertedOrUpdated, materialized...)

	existing, err := s.getResourceTx(tx, accountID, path)
	if err != nil {
		return types.ChangeSet{}, err
	}

	// 2b. Type change cascades to deletion of the previous subtree.
	if existing != nil && existing.IsCollection != props.IsCollection {
		deleted, err := s.deleteSubtreeTx(tx, accountID, path)
		if err != nil {
			return types.ChangeSet{}, err
		}
		cs.Deleted = append(cs.Deleted, deleted...)
		existing = nil
	}

	// Tie-break: an identical self-write with no children payload and no
	// preceding type change is a no-op.
	if existing != nil && children == nil && resourceUnchanged(*existing, props) {
		if len(cs.InsertedOrUpdated) == 0 && len(cs.Deleted) == 0 {
			return types.ChangeSet{}, nil
		}
	}

	// 2c. Write S at p, carrying forward file state unless the version
	// changed.
	next := types.Resource{
		AccountID:     accountID,
		Path:          path,
		IsCollection:  props.IsCollection,
		Version:       props.Version,
		Updated:       nowFunc(),
		ContentType:   props.ContentType,
		ContentLength: props.ContentLength,
		Modified:      props.Modified,
	}
	if existing != nil {
		next.FileState = existing.FileState
	}
	if existing == nil || existing.Version != props.Version {
		if next.FileState.Kind == types.FileStatePresent && next.FileState.LocalPath != "" {
			_ = os.Remove(next.FileState.LocalPath)
		}
		next.FileState = types.FileState{Kind: types.FileStateAbsent}
	}

	// 2d. Replace the child set, if supplied.
	var childEntries types.ChangeSet
	if children != nil {
		childEntries, err = s.replaceChildren(tx, accountID, path, children)
		if err != nil {
			return types.ChangeSet{}, err
		}
	}

	// 2e. p's own dirty flag: false only when children were supplied, or
	// when p is a non-collection.
	next.Dirty = !(children != nil || !props.IsCollection)

	if err := s.upsertResourceTx(tx, next); err != nil {
		return types.ChangeSet{}, err
	}
	cs.InsertedOrUpdated = append(cs.InsertedOrUpdated, next)
	cs.Merge(childEntries)

	// 2e. Propagate dirty to ancestors unless this write left p's own
	// subtree fully consistent: children supplied, or p is a non-collection
	// (same test as next.Dirty above).
	if next.Dirty {
		touched, err := s.markAncestorsDirty(tx, accountID, path)
		if err != nil {
			return types.ChangeSet{}, err
		}
		cs.InsertedOrUpdated = append(cs.InsertedOrUpdated, touched...)
	}

	return cs, nil
}

// replaceChildren implements 2d: writes each supplied child as an isolated
// per-child update (type-change cascade only, no grandchild materialization
// or ancestor propagation, since p already accounts for that), and deletes
// any existing child not named in children.
func (s *Store) replaceChildren(tx *sql.Tx, accountID string, parent types.Path, children map[string]types.Properties) (types.ChangeSet, error) {
	var cs types.ChangeSet

	existingChildren, err := s.childrenTx(tx, accountID, parent)
	if err != nil {
		return types.ChangeSet{}, err
	}
	existingByName := make(map[string]types.Resource, len(existingChildren))
	for _, c := range existingChildren {
		existingByName[c.Path[len(c.Path)-1]] = c
	}

	for name, props := range children {
		childPath := parent.Child(name)
		prior, ok := existingByName[name]

		if ok && prior.IsCollection != props.IsCollection {
			deleted, err := s.deleteSubtreeTx(tx, accountID, childPath)
			if err != nil {
				return types.ChangeSet{}, err
			}
			cs.Deleted = append(cs.Deleted, deleted...)
			ok = false
		}

		if ok && resourceUnchanged(prior, props) {
			delete(existingByName, name)
			continue
		}

		next := types.Resource{
			AccountID:     accountID,
			Path:          childPath,
			IsCollection:  props.IsCollection,
			Version:       props.Version,
			Updated:       nowFunc(),
			ContentType:   props.ContentType,
			ContentLength: props.ContentLength,
			Modified:      props.Modified,
			// A child collection written with no grandchild content is
			// dirty until a later reconcile supplies its own children.
			Dirty: props.IsCollection,
		}
		if ok {
			next.FileState = prior.FileState
			if prior.Version != props.Version {
				if next.FileState.Kind == types.FileStatePresent && next.FileState.LocalPath != "" {
					_ = os.Remove(next.FileState.LocalPath)
				}
				next.FileState = types.FileState{Kind: types.FileStateAbsent}
			}
		}
		if err := s.upsertResourceTx(tx, next); err != nil {
			return types.ChangeSet{}, err
		}
		cs.InsertedOrUpdated = append(cs.InsertedOrUpdated, next)
		delete(existingByName, name)
	}

	// Anything left in existingByName was not named in children: delete it.
	for name := range existingByName {
		deleted, err := s.deleteSubtreeTx(tx, accountID, parent.Child(name))
		if err != nil {
			return types.ChangeSet{}, err
		}
		cs.Deleted = append(cs.Deleted, deleted...)
	}

	return cs, nil
}

// materializeAncestors ensures every ancestor of path exists as a
// collection, per invariant 1. Freshly created ancestors are returned so
// the caller can fold them into the change set; each is dirty=true with an
// empty version, never clobbering an existing version.
func (s *Store) materializeAncestors(tx *sql.Tx, accountID string, path types.Path) ([]types.Resource, error) {
	var created []types.Resource
	for i := 0; i < len(path); i++ {
		ancestor := path[:i]
		existing, err := s.getResourceTxWithPath(tx, accountID, ancestor)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}
		r := types.Resource{
			AccountID:    accountID,
			Path:         ancestor,
			IsCollection: true,
			Version:      "",
			Dirty:        true,
			Updated:      nowFunc(),
			FileState:    types.FileState{Kind: types.FileStateAbsent},
		}
		if err := s.upsertResourceTx(tx, r); err != nil {
			return nil, err
		}
		created = append(created, r)
	}
	return created, nil
}

// markAncestorsDirty sets dirty=true on every existing ancestor of path
// that is not already dirty, materializing any that do not yet exist.
// Returns every ancestor whose row changed as a result.
func (s *Store) markAncestorsDirty(tx *sql.Tx, accountID string, path types.Path) ([]types.Resource, error) {
	if len(path) == 0 {
		return nil, nil
	}
	var touched []types.Resource
	for i := 0; i < len(path); i++ {
		ancestor := path[:i]
		existing, err := s.getResourceTxWithPath(tx, accountID, ancestor)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			r := types.Resource{
				AccountID:    accountID,
				Path:         ancestor,
				IsCollection: true,
				Version:      "",
				Dirty:        true,
				Updated:      nowFunc(),
				FileState:    types.FileState{Kind: types.FileStateAbsent},
			}
			if err := s.upsertResourceTx(tx, r); err != nil {
				return nil, err
			}
			touched = append(touched, r)
			continue
		}
		if existing.Dirty {
			continue
		}
		existing.Dirty = true
		existing.Updated = nowFunc()
		if err := s.upsertResourceTx(tx, *existing); err != nil {
			return nil, err
		}
		touched = append(touched, *existing)
	}
	return touched, nil
}

func (s *Store) getResourceTx(tx *sql.Tx, accountID string, path types.Path) (*types.Resource, error) {
	return s.getResourceTxWithPath(tx, accountID, path)
}

func (s *Store) getResourceTxWithPath(tx *sql.Tx, accountID string, path types.Path) (*types.Resource, error) {
	row := tx.QueryRowContext(context.Background(), resourceSelectSQL+` AND path_key = ?`, accountID, encodePathKey(path))
	r, err := scanResource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, syncerrors.Storage("failed to load resource", err)
	}
	return &r, nil
}

func (s *Store) childrenTx(tx *sql.Tx, accountID string, path types.Path) ([]types.Resource, error) {
	prefix := encodePathKey(path)
	rows, err := tx.QueryContext(context.Background(),
		resourceSelectSQL+` AND depth = ? AND path_key LIKE ? ESCAPE '\'`,
		accountID, len(path)+1, likeEscape(prefix)+"%")
	if err != nil {
		return nil, syncerrors.Storage("failed to list children", err)
	}
	defer rows.Close()

	var out []types.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, syncerrors.Storage("failed to scan resource row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// deleteSubtreeTx deletes the resource at path (if any) and every
// descendant, returning the deleted rows.
func (s *Store) deleteSubtreeTx(tx *sql.Tx, accountID string, path types.Path) ([]types.Resource, error) {
	prefix := encodePathKey(path)
	rows, err := tx.QueryContext(context.Background(),
		resourceSelectSQL+` AND (path_key = ? OR path_key LIKE ? ESCAPE '\')`,
		accountID, prefix, likeEscape(prefix)+"_%")
	if err != nil {
		return nil, syncerrors.Storage("failed to select subtree for deletion", err)
	}

	var deleted []types.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			rows.Close()
			return nil, syncerrors.Storage("failed to scan resource row", err)
		}
		deleted = append(deleted, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, syncerrors.Storage("failed to iterate subtree", err)
	}
	rows.Close()

	for _, r := range deleted {
		if r.FileState.Kind == types.FileStatePresent && r.FileState.LocalPath != "" {
			_ = os.Remove(r.FileState.LocalPath)
		}
	}

	if _, err := tx.ExecContext(context.Background(),
		`DELETE FROM resources WHERE account_id = ? AND (path_key = ? OR path_key LIKE ? ESCAPE '\')`,
		accountID, prefix, likeEscape(prefix)+"_%"); err != nil {
		return nil, syncerrors.Storage("failed to delete subtree", err)
	}
	return deleted, nil
}

func (s *Store) upsertResourceTx(tx *sql.Tx, r types.Resource) error {
	pathJSON, err := encodePathJSON(r.Path)
	if err != nil {
		return syncerrors.Storage("failed to encode path", err)
	}

	var modifiedUnix sql.NullInt64
	if r.Modified != nil {
		modifiedUnix = sql.NullInt64{Int64: r.Modified.Unix(), Valid: true}
	}
	var localPath, storedVersion sql.NullString
	if r.FileState.LocalPath != "" {
		localPath = sql.NullString{String: r.FileState.LocalPath, Valid: true}
	}
	if r.FileState.StoredVersion != "" {
		storedVersion = sql.NullString{String: r.FileState.StoredVersion, Valid: true}
	}

	updated := r.Updated
	if updated.IsZero() {
		updated = nowFunc()
	}

	_, err = tx.ExecContext(context.Background(), `
		INSERT INTO resources (
			account_id, path_key, depth, path_json, is_collection, version, dirty, updated,
			content_type, content_length, modified, file_state, local_path, stored_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, path_key) DO UPDATE SET
			depth=excluded.depth, path_json=excluded.path_json, is_collection=excluded.is_collection,
			version=excluded.version, dirty=excluded.dirty, updated=excluded.updated,
			content_type=excluded.content_type, content_length=excluded.content_length,
			modified=excluded.modified, file_state=excluded.file_state,
			local_path=excluded.local_path, stored_version=excluded.stored_version
	`, r.AccountID, encodePathKey(r.Path), len(r.Path), pathJSON, boolToInt(r.IsCollection), r.Version, boolToInt(r.Dirty),
		updated.Unix(), r.ContentType, r.ContentLength, modifiedUnix, fileStateKindToInt(r.FileState.Kind), localPath, storedVersion)
	if err != nil {
		return syncerrors.Storage("failed to write resource", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func resourceUnchanged(existing types.Resource, props types.Properties) bool {
	if existing.IsCollection != props.IsCollection || existing.Version != props.Version {
		return false
	}
	if !stringPtrEqual(existing.ContentType, props.ContentType) {
		return false
	}
	if !int64PtrEqual(existing.ContentLength, props.ContentLength) {
		return false
	}
	if !timePtrEqual(existing.Modified, props.Modified) {
		return false
	}
	return true
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
