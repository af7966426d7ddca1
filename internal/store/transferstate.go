package store

import (
	"context"

	syncerrors "github.com/lucidfs/davsync/internal/errors"
	"github.com/lucidfs/davsync/internal/types"
)

// MarkDownloading transitions a non-collection resource's fileState to
// "downloading". It is a no-op if the resource does not exist or is a
// collection; callers (the Transfer Layer) are expected to have already
// validated the ResourceID before calling.
func (s *Store) MarkDownloading(id types.ResourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.resourceLocked(id.AccountID, id.Path)
	if err != nil {
		return err
	}
	if res == nil || res.IsCollection {
		return nil
	}

	_, err = s.db.ExecContext(context.Background(),
		`UPDATE resources SET file_state = ? WHERE account_id = ? AND path_key = ?`,
		fileStateKindToInt(types.FileStateDownloading), id.AccountID, encodePathKey(id.Path))
	if err != nil {
		return syncerrors.Storage("failed to mark resource downloading", err)
	}
	return nil
}

// ClearDownloading reverts a resource's fileState from "downloading" back to
// "absent". Called by the Transfer Layer when a download fails, is
// cancelled, or is abandoned by a crashed process and superseded by a fresh
// attempt. A no-op if the resource is no longer in the downloading state
// (e.g. a concurrent property write already moved it elsewhere).
func (s *Store) ClearDownloading(id types.ResourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(context.Background(),
		`UPDATE resources SET file_state = ? WHERE account_id = ? AND path_key = ? AND file_state = ?`,
		fileStateKindToInt(types.FileStateAbsent), id.AccountID, encodePathKey(id.Path),
		fileStateKindToInt(types.FileStateDownloading))
	if err != nil {
		return syncerrors.Storage("failed to clear downloading state", err)
	}
	return nil
}

// StaleDownloads returns every resource of accountID left in the
// "downloading" state, then resets each to "absent". A process crash mid-
// transfer leaves this state behind since no goroutine survives to complete
// or fail it; this is the Transfer Layer's crash-recovery scan for hosts
// (like this one) that have no OS-level background transfer session to
// re-enumerate. Every resource returned is a candidate for a fresh
// download() call.
func (s *Store) StaleDownloads(accountID string) ([]types.ResourceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(context.Background(),
		`SELECT path_json FROM resources WHERE account_id = ? AND file_state = ?`,
		accountID, fileStateKindToInt(types.FileStateDownloading))
	if err != nil {
		return nil, syncerrors.Storage("failed to list stale downloads", err)
	}

	var ids []types.ResourceID
	for rows.Next() {
		var pathJSON string
		if err := rows.Scan(&pathJSON); err != nil {
			rows.Close()
			return nil, syncerrors.Storage("failed to scan stale download row", err)
		}
		path, err := decodePathJSON(pathJSON)
		if err != nil {
			rows.Close()
			return nil, syncerrors.Storage("failed to decode stale download path", err)
		}
		ids = append(ids, types.ResourceID{AccountID: accountID, Path: path})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, syncerrors.Storage("failed to iterate stale downloads", err)
	}
	rows.Close()

	if _, err := s.db.ExecContext(context.Background(),
		`UPDATE resources SET file_state = ? WHERE account_id = ? AND file_state = ?`,
		fileStateKindToInt(types.FileStateAbsent), accountID, fileStateKindToInt(types.FileStateDownloading)); err != nil {
		return nil, syncerrors.Storage("failed to reset stale downloads", err)
	}

	return ids, nil
}
