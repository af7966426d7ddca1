package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	syncerrors "github.com/lucidfs/davsync/internal/errors"
	"github.com/lucidfs/davsync/internal/types"
)

// AddAccount assigns a fresh account identifier for (baseURL, username) and
// records it. Fails with an invalidArgument-kind error if an existing
// account already binds the same pair.
func (s *Store) AddAccount(baseURL, username string) (types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	row := s.db.QueryRowContext(context.Background(),
		`SELECT 1 FROM accounts WHERE base_url = ? AND username = ? LIMIT 1`, baseURL, username)
	if err := row.Scan(&exists); err == nil {
		return types.Account{}, syncerrors.New(syncerrors.KindInvalidArgument,
			"an account with this url and username already exists").Build()
	} else if !errors.Is(err, sql.ErrNoRows) {
		return types.Account{}, syncerrors.Storage("failed to check for existing account", err)
	}

	account := types.Account{
		ID:         uuid.NewString(),
		BaseURL:    baseURL,
		Username:   username,
		CreatedAt:  nowFunc(),
		AuthScheme: types.AuthSchemeBasic,
	}

	if err := s.insertAccount(account); err != nil {
		return types.Account{}, err
	}
	return account, nil
}

// AddOAuth2Account is AddAccount's counterpart for a WebDAV deployment
// fronted by OAuth2: the account is recorded with AuthSchemeOAuth2 and the
// OAuth2 client registration it authenticates through.
func (s *Store) AddOAuth2Account(baseURL, username string, oauth2Config types.OAuth2Config) (types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	row := s.db.QueryRowContext(context.Background(),
		`SELECT 1 FROM accounts WHERE base_url = ? AND username = ? LIMIT 1`, baseURL, username)
	if err := row.Scan(&exists); err == nil {
		return types.Account{}, syncerrors.New(syncerrors.KindInvalidArgument,
			"an account with this url and username already exists").Build()
	} else if !errors.Is(err, sql.ErrNoRows) {
		return types.Account{}, syncerrors.Storage("failed to check for existing account", err)
	}

	account := types.Account{
		ID:         uuid.NewString(),
		BaseURL:    baseURL,
		Username:   username,
		CreatedAt:  nowFunc(),
		AuthScheme: types.AuthSchemeOAuth2,
		OAuth2:     &oauth2Config,
	}

	if err := s.insertAccount(account); err != nil {
		return types.Account{}, err
	}
	return account, nil
}

func (s *Store) insertAccount(account types.Account) error {
	var oauth2JSON sql.NullString
	if account.OAuth2 != nil {
		data, err := json.Marshal(account.OAuth2)
		if err != nil {
			return syncerrors.New(syncerrors.KindInvalidArgument, "failed to encode oauth2 config").WithCause(err).Build()
		}
		oauth2JSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO accounts (id, base_url, username, label, created_at, auth_scheme, oauth2_config)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, account.ID, account.BaseURL, account.Username, account.Label, account.CreatedAt.Unix(),
		string(account.AuthScheme), oauth2JSON)
	if err != nil {
		return syncerrors.Storage("failed to insert account", err)
	}
	return nil
}

// UpdateAccount changes an account's display label.
func (s *Store) UpdateAccount(accountID, label string) (types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(context.Background(),
		`UPDATE accounts SET label = ? WHERE id = ?`, label, accountID)
	if err != nil {
		return types.Account{}, syncerrors.Storage("failed to update account", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Account{}, syncerrors.New(syncerrors.KindInvalidArgument, "unknown account").Build()
	}
	return s.getAccountLocked(accountID)
}

// RemoveAccount deletes an account, its resources, and its body cache
// directory contents. Other accounts are unaffected.
func (s *Store) RemoveAccount(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return syncerrors.Storage("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM resources WHERE account_id = ?`, accountID); err != nil {
		return syncerrors.Storage("failed to delete account resources", err)
	}
	res, err := tx.Exec(`DELETE FROM accounts WHERE id = ?`, accountID)
	if err != nil {
		return syncerrors.Storage("failed to delete account", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return syncerrors.New(syncerrors.KindInvalidArgument, "unknown account").Build()
	}
	if err := tx.Commit(); err != nil {
		return syncerrors.Storage("failed to commit account removal", err)
	}

	if err := os.RemoveAll(filepath.Join(s.directory, accountID)); err != nil {
		return syncerrors.Storage("failed to remove account body cache", err)
	}
	return nil
}

// Accounts returns every account in insertion order.
func (s *Store) Accounts() ([]types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(context.Background(),
		`SELECT id, base_url, username, label, created_at, auth_scheme, oauth2_config FROM accounts ORDER BY rowid`)
	if err != nil {
		return nil, syncerrors.Storage("failed to list accounts", err)
	}
	defer rows.Close()

	var out []types.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, syncerrors.Storage("failed to scan account row", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerrors.Storage("failed to iterate accounts", err)
	}
	return out, nil
}

// GetAccount returns a single account by id.
func (s *Store) GetAccount(accountID string) (types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAccountLocked(accountID)
}

func (s *Store) getAccountLocked(accountID string) (types.Account, error) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT id, base_url, username, label, created_at, auth_scheme, oauth2_config FROM accounts WHERE id = ?`, accountID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Account{}, syncerrors.New(syncerrors.KindInvalidArgument, "unknown account").Build()
	}
	if err != nil {
		return types.Account{}, syncerrors.Storage("failed to load account", err)
	}
	return a, nil
}

func scanAccount(scanner interface{ Scan(...any) error }) (types.Account, error) {
	var a types.Account
	var label, authScheme, oauth2JSON sql.NullString
	var createdAtUnix int64
	if err := scanner.Scan(&a.ID, &a.BaseURL, &a.Username, &label, &createdAtUnix, &authScheme, &oauth2JSON); err != nil {
		return types.Account{}, err
	}
	a.Label = label.String
	a.CreatedAt = unixToTime(createdAtUnix)
	a.AuthScheme = types.AuthScheme(authScheme.String)
	if a.AuthScheme == "" {
		a.AuthScheme = types.AuthSchemeBasic
	}
	if oauth2JSON.Valid && oauth2JSON.String != "" {
		var cfg types.OAuth2Config
		if err := json.Unmarshal([]byte(oauth2JSON.String), &cfg); err != nil {
			return types.Account{}, err
		}
		a.OAuth2 = &cfg
	}
	return a, nil
}
