package store

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	syncerrors "github.com/lucidfs/davsync/internal/errors"
	"github.com/lucidfs/davsync/internal/types"
)

// MoveFile atomically adopts a downloaded body: it validates that the
// resource exists, is a non-collection, and that version matches the
// resource's current version, then moves sourcePath into the Store-owned
// body cache and marks the resource's file state present. A version
// mismatch discards sourcePath and returns an empty change set.
func (s *Store) MoveFile(sourcePath, version string, resourceID types.ResourceID) (types.ChangeSet, error) {
	if err := validatePath(resourceID.Path); err != nil {
		return types.ChangeSet{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resource, err := s.resourceLocked(resourceID.AccountID, resourceID.Path)
	if err != nil {
		return types.ChangeSet{}, err
	}
	if resource == nil {
		_ = os.Remove(sourcePath)
		return types.ChangeSet{}, syncerrors.New(syncerrors.KindInvalidArgument, "unknown resource").
			WithResourceID(resourceID).Build()
	}
	if resource.IsCollection {
		_ = os.Remove(sourcePath)
		return types.ChangeSet{}, syncerrors.New(syncerrors.KindInvalidArgument, "resource is a collection").
			WithResourceID(resourceID).Build()
	}
	if resource.Version != version {
		_ = os.Remove(sourcePath)
		return types.ChangeSet{}, nil
	}

	bodyDir, err := s.bodyDir(resourceID.AccountID)
	if err != nil {
		return types.ChangeSet{}, syncerrors.Storage("failed to prepare body cache directory", err)
	}
	destPath := filepath.Join(bodyDir, uuid.NewString())

	if err := moveFileAtomic(sourcePath, destPath); err != nil {
		return types.ChangeSet{}, syncerrors.Storage("failed to adopt downloaded body", err)
	}

	previousLocalPath := resource.FileState.LocalPath
	resource.FileState = types.FileState{
		Kind:          types.FileStatePresent,
		LocalPath:     destPath,
		StoredVersion: version,
	}
	resource.Updated = nowFunc()

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		_ = os.Remove(destPath)
		return types.ChangeSet{}, syncerrors.Storage("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.upsertResourceTx(tx, *resource); err != nil {
		_ = os.Remove(destPath)
		return types.ChangeSet{}, err
	}
	if err := tx.Commit(); err != nil {
		_ = os.Remove(destPath)
		return types.ChangeSet{}, syncerrors.Storage("failed to commit body adoption", err)
	}

	if previousLocalPath != "" && previousLocalPath != destPath {
		_ = os.Remove(previousLocalPath)
	}

	return types.ChangeSet{InsertedOrUpdated: []types.Resource{*resource}}, nil
}

// SetContentType patches a resource's content type in place, for the
// sniffed-MIME-type fallback when the remote's PROPFIND response omitted
// getcontenttype. A no-op if the resource no longer exists.
func (s *Store) SetContentType(resourceID types.ResourceID, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resource, err := s.resourceLocked(resourceID.AccountID, resourceID.Path)
	if err != nil {
		return err
	}
	if resource == nil {
		return nil
	}

	ct := contentType
	resource.ContentType = &ct
	resource.Updated = nowFunc()

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return syncerrors.Storage("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.upsertResourceTx(tx, *resource); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return syncerrors.Storage("failed to commit content-type update", err)
	}
	return nil
}

// moveFileAtomic renames source to dest, falling back to copy-then-remove
// when they live on different filesystems (os.Rename returns EXDEV).
func moveFileAtomic(source, dest string) error {
	if err := os.Rename(source, dest); err == nil {
		return nil
	}

	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return err
	}
	_ = os.Remove(source)
	return nil
}
