package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	syncerrors "github.com/lucidfs/davsync/internal/errors"
)

// Credentials is the persisted shape of one account's stored secret: a
// WebDAV username/password pair, or (when Bearer is non-empty) an OAuth2
// refresh token used to mint bearer tokens.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Bearer   string `json:"bearerRefreshToken,omitempty"`
}

// Store loads and saves account credentials through a StorageBackend,
// keyed by account ID.
type Store struct {
	backend StorageBackend
}

// NewStore wraps a StorageBackend as a credential Store.
func NewStore(backend StorageBackend) *Store {
	return &Store{backend: backend}
}

func (s *Store) Load(accountID string) (Credentials, error) {
	data, err := s.backend.Load(accountID)
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse stored credentials: %w", err)
	}
	return creds, nil
}

func (s *Store) Save(accountID string, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	return s.backend.Save(accountID, data)
}

func (s *Store) Delete(accountID string) error {
	return s.backend.Delete(accountID)
}

// PasswordDelegate is the upward callback the Service Facade forwards a
// credential challenge through (the specification's needsPassword). It may
// return an empty string to decline, in which case the caller treats the
// challenge as a cancel.
type PasswordDelegate func(ctx context.Context, accountID string) (string, error)

// BasicCredentialSource answers AuthorizationHeader with HTTP Basic auth,
// consulting the credential Store first and falling back to the delegate
// (and persisting whatever the delegate returns) on a miss.
type BasicCredentialSource struct {
	mu        sync.Mutex
	accountID string
	username  string
	store     *Store
	delegate  PasswordDelegate
	cached    string // cached "Basic ..." header once resolved
}

// NewBasicCredentialSource builds a Basic-auth CredentialSource for one
// account. username is the account's WebDAV username; the password is
// loaded from store, or requested from delegate on first use.
func NewBasicCredentialSource(accountID, username string, store *Store, delegate PasswordDelegate) *BasicCredentialSource {
	return &BasicCredentialSource{
		accountID: accountID,
		username:  username,
		store:     store,
		delegate:  delegate,
	}
}

func (b *BasicCredentialSource) AuthorizationHeader(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cached != "" {
		return b.cached, nil
	}

	if creds, err := b.store.Load(b.accountID); err == nil && creds.Password != "" {
		b.cached = basicHeader(b.username, creds.Password)
		return b.cached, nil
	}

	if b.delegate == nil {
		return "", syncerrors.Cancelled()
	}
	password, err := b.delegate(ctx, b.accountID)
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", syncerrors.Cancelled()
	}

	if err := b.store.Save(b.accountID, Credentials{Username: b.username, Password: password}); err != nil {
		return "", fmt.Errorf("failed to persist credentials: %w", err)
	}
	b.cached = basicHeader(b.username, password)
	return b.cached, nil
}

// Invalidate clears the cached header and purges the persisted credential,
// forcing the next AuthorizationHeader call to re-consult the delegate
// rather than reloading the same stale password from storage. The Transfer
// Layer calls this after an authenticationRequired failure so a revoked
// password is not retried forever.
func (b *BasicCredentialSource) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cached = ""
	_ = b.store.Delete(b.accountID)
}

func basicHeader(username, password string) string {
	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return "Basic " + token
}
