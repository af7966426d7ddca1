package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	syncerrors "github.com/lucidfs/davsync/internal/errors"
	"github.com/lucidfs/davsync/internal/types"
)

// Resource returns the resource at path, or nil if none exists.
func (s *Store) Resource(accountID string, path types.Path) (*types.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resourceLocked(accountID, path)
}

func (s *Store) resourceLocked(accountID string, path types.Path) (*types.Resource, error) {
	row := s.db.QueryRowContext(context.Background(), resourceSelectSQL+` AND path_key = ?`,
		accountID, encodePathKey(path))
	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, syncerrors.Storage("failed to load resource", err)
	}
	return &r, nil
}

// Contents returns the direct children of path, ordered by path.
func (s *Store) Contents(accountID string, path types.Path) ([]types.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contentsLocked(accountID, path)
}

func (s *Store) contentsLocked(accountID string, path types.Path) ([]types.Resource, error) {
	prefix := encodePathKey(path)
	rows, err := s.db.QueryContext(context.Background(),
		resourceSelectSQL+` AND depth = ? AND path_key LIKE ? ESCAPE '\' ORDER BY path_key`,
		accountID, len(path)+1, likeEscape(prefix)+"%")
	if err != nil {
		return nil, syncerrors.Storage("failed to list contents", err)
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
	if err := rows.Err(); err != nil {
		return nil, syncerrors.Storage("failed to iterate contents", err)
	}
	return out, nil
}

// descendantsLocked returns every resource strictly beneath path (not path
// itself), in no particular order.
func (s *Store) descendantsLocked(accountID string, path types.Path) ([]types.Resource, error) {
	prefix := encodePathKey(path)
	rows, err := s.db.QueryContext(context.Background(),
		resourceSelectSQL+` AND path_key LIKE ? ESCAPE '\' AND path_key <> ?`,
		accountID, likeEscape(prefix)+"%", prefix)
	if err != nil {
		return nil, syncerrors.Storage("failed to list descendants", err)
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
	if err := rows.Err(); err != nil {
		return nil, syncerrors.Storage("failed to iterate descendants", err)
	}
	return out, nil
}

const resourceSelectSQL = `
	SELECT account_id, path_json, is_collection, version, dirty, updated,
	       content_type, content_length, modified, file_state, local_path, stored_version
	FROM resources WHERE account_id = ?
`

func scanResource(scanner interface{ Scan(...any) error }) (types.Resource, error) {
	var r types.Resource
	var pathJSON string
	var isCollection, dirty int
	var updatedUnix int64
	var contentType sql.NullString
	var contentLength sql.NullInt64
	var modifiedUnix sql.NullInt64
	var fileState int
	var localPath, storedVersion sql.NullString

	err := scanner.Scan(&r.AccountID, &pathJSON, &isCollection, &r.Version, &dirty, &updatedUnix,
		&contentType, &contentLength, &modifiedUnix, &fileState, &localPath, &storedVersion)
	if err != nil {
		return types.Resource{}, err
	}

	path, err := decodePathJSON(pathJSON)
	if err != nil {
		return types.Resource{}, err
	}
	r.Path = path
	r.IsCollection = isCollection != 0
	r.Dirty = dirty != 0
	r.Updated = unixToTime(updatedUnix)
	if contentType.Valid {
		v := contentType.String
		r.ContentType = &v
	}
	if contentLength.Valid {
		v := contentLength.Int64
		r.ContentLength = &v
	}
	if modifiedUnix.Valid {
		v := time.Unix(modifiedUnix.Int64, 0).UTC()
		r.Modified = &v
	}

	r.FileState.Kind = fileStateKindFromInt(fileState)
	if localPath.Valid {
		r.FileState.LocalPath = localPath.String
	}
	if storedVersion.Valid {
		r.FileState.StoredVersion = storedVersion.String
	}
	return r, nil
}

func fileStateKindToInt(k types.FileStateKind) int {
	switch k {
	case types.FileStateDownloading:
		return 1
	case types.FileStatePresent:
		return 2
	default:
		return 0
	}
}

func fileStateKindFromInt(v int) types.FileStateKind {
	switch v {
	case 1:
		return types.FileStateDownloading
	case 2:
		return types.FileStatePresent
	default:
		return types.FileStateAbsent
	}
}
