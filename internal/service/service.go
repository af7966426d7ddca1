// Package service implements the Service Facade: the process-wide registry
// of accounts and their per-account Resource Managers, and the single entry
// point a host application talks to.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/lucidfs/davsync/internal/auth"
	syncerrors "github.com/lucidfs/davsync/internal/errors"
	"github.com/lucidfs/davsync/internal/logging"
	"github.com/lucidfs/davsync/internal/queue"
	"github.com/lucidfs/davsync/internal/remote"
	"github.com/lucidfs/davsync/internal/resourcemanager"
	"github.com/lucidfs/davsync/internal/store"
	"github.com/lucidfs/davsync/internal/transfer"
	"github.com/lucidfs/davsync/internal/types"
)

// EventKind is one of the four observable events the Facade publishes.
type EventKind string

const (
	EventAccountAdded     EventKind = "accountAdded"
	EventAccountUpdated   EventKind = "accountUpdated"
	EventAccountRemoved   EventKind = "accountRemoved"
	EventResourcesChanged EventKind = "resourcesChanged"
)

// Event is one notification delivered to subscribers on the main domain.
type Event struct {
	Kind      EventKind
	AccountID string
	Account   *types.Account
	Changes   types.ChangeSet
}

// Delegate is the host's inward delegate: the sole consumer of credential
// challenges forwarded upward from any account's Resource Manager. If no
// Delegate is installed, every challenge resolves with "no credential."
type Delegate interface {
	NeedsPassword(ctx context.Context, accountID string) (string, error)
}

// Config configures a new Service.
type Config struct {
	// Directory is the root for all persisted state: the Store and the
	// credential storage backend both live under it.
	Directory string

	BundleIdentifier    string
	MaxRetries          int
	RetryBaseDelay      time.Duration
	TransferConcurrency int
	RequestTimeout      time.Duration

	// ForcePlainFileCredentials selects PlainFileStorage over the usual
	// keyring/encrypted-file cascade; intended for headless test/CI hosts.
	ForcePlainFileCredentials bool

	Delegate Delegate
	Logger   logging.Logger

	// OAuthOpenBrowser, if set, is used to launch the interactive consent
	// page for AuthSchemeOAuth2 accounts on a non-headless host. Left nil,
	// the CredentialSource prints the URL instead.
	OAuthOpenBrowser func(url string) error
}

// credentialSource is what getOrCreateEntry hands both the remote HTTP
// client (as a remote.CredentialSource) and the Transfer Layer (as a
// transfer.Invalidator): both BasicCredentialSource and
// OAuthCredentialSource satisfy it, so the two AuthScheme branches share
// every line downstream of constructing one.
type credentialSource interface {
	remote.CredentialSource
	transfer.Invalidator
}

type accountEntry struct {
	account    types.Account
	manager    *resourcemanager.Manager
	xfer       *transfer.Manager
	credential credentialSource
}

// Service is the Facade: one per process, owning the Store, the credential
// Store, and the lazily-created per-account Resource Managers and Transfer
// Managers.
type Service struct {
	cfg    Config
	logger logging.Logger

	store     *store.Store
	credStore *auth.Store

	accountQueue *queue.Queue // the Facade's own serial queue for account-level mutations

	events chan Event

	subMu       sync.Mutex
	subscribers map[int]func(Event)
	nextSubID   int

	mu       sync.Mutex
	accounts map[string]*accountEntry
}

// New opens (or creates) the persisted state under cfg.Directory and
// returns a ready-to-use Service. Resource Managers and Transfer Managers
// are created lazily, on first use of each account.
func New(cfg Config) (*Service, error) {
	if cfg.Directory == "" {
		return nil, syncerrors.InvalidArgument("Directory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if cfg.BundleIdentifier == "" {
		cfg.BundleIdentifier = "davsync.engine"
	}
	if cfg.TransferConcurrency <= 0 {
		cfg.TransferConcurrency = 4
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	st, err := store.Open(cfg.Directory, logger)
	if err != nil {
		return nil, err
	}

	backend, warning := auth.NewDefaultStorageBackend(cfg.Directory, cfg.ForcePlainFileCredentials)
	if warning != "" {
		logger.Warn(warning)
	}

	svc := &Service{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		credStore:    auth.NewStore(backend),
		accountQueue: queue.New(64),
		events:       make(chan Event, 256),
		subscribers:  make(map[int]func(Event)),
		accounts:     make(map[string]*accountEntry),
	}
	go svc.dispatchEvents()

	return svc, nil
}

// dispatchEvents is the Facade's single dispatch goroutine: it drains the
// events channel and republishes each event to every registered subscriber,
// so subscriber callbacks never race each other or the Facade's own state.
func (s *Service) dispatchEvents() {
	for ev := range s.events {
		s.subMu.Lock()
		callbacks := make([]func(Event), 0, len(s.subscribers))
		for _, cb := range s.subscribers {
			callbacks = append(callbacks, cb)
		}
		s.subMu.Unlock()

		for _, cb := range callbacks {
			cb(ev)
		}
	}
}

// Subscribe registers fn to receive every future Event on the main domain,
// returning an unsubscribe function.
func (s *Service) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Service) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event channel full, dropping event", logging.F("kind", string(ev.Kind)))
	}
}

// Accounts returns every configured account.
func (s *Service) Accounts() ([]types.Account, error) {
	return s.store.Accounts()
}

// AddAccount registers a new account and publishes accountAdded.
func (s *Service) AddAccount(baseURL, username string) (types.Account, error) {
	var acct types.Account
	var opErr error
	if err := s.accountQueue.SubmitWait(context.Background(), func() {
		acct, opErr = s.store.AddAccount(baseURL, username)
	}); err != nil {
		return types.Account{}, err
	}
	if opErr != nil {
		return types.Account{}, opErr
	}

	s.publish(Event{Kind: EventAccountAdded, AccountID: acct.ID, Account: &acct})
	return acct, nil
}

// AddOAuth2Account registers a new OAuth2-authenticated account and
// publishes accountAdded. oauth2Config is the WebDAV deployment's own OAuth2
// client registration, persisted alongside the account.
func (s *Service) AddOAuth2Account(baseURL, username string, oauth2Config types.OAuth2Config) (types.Account, error) {
	var acct types.Account
	var opErr error
	if err := s.accountQueue.SubmitWait(context.Background(), func() {
		acct, opErr = s.store.AddOAuth2Account(baseURL, username, oauth2Config)
	}); err != nil {
		return types.Account{}, err
	}
	if opErr != nil {
		return types.Account{}, opErr
	}

	s.publish(Event{Kind: EventAccountAdded, AccountID: acct.ID, Account: &acct})
	return acct, nil
}

// UpdateAccount updates an account's label and publishes accountUpdated.
func (s *Service) UpdateAccount(accountID, label string) (types.Account, error) {
	var acct types.Account
	var opErr error
	if err := s.accountQueue.SubmitWait(context.Background(), func() {
		acct, opErr = s.store.UpdateAccount(accountID, label)
	}); err != nil {
		return types.Account{}, err
	}
	if opErr != nil {
		return types.Account{}, opErr
	}

	s.publish(Event{Kind: EventAccountUpdated, AccountID: acct.ID, Account: &acct})
	return acct, nil
}

// RemoveAccount cancels the account's in-flight transfers, removes its
// Resource Manager and Transfer Manager, deletes its stored credentials,
// removes it from the Store, and publishes accountRemoved.
func (s *Service) RemoveAccount(accountID string) error {
	s.mu.Lock()
	entry := s.accounts[accountID]
	delete(s.accounts, accountID)
	s.mu.Unlock()

	if entry != nil {
		entry.xfer.InvalidateAndCancel()
	}

	var opErr error
	if err := s.accountQueue.SubmitWait(context.Background(), func() {
		opErr = s.store.RemoveAccount(accountID)
	}); err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}

	_ = s.credStore.Delete(accountID)

	s.publish(Event{Kind: EventAccountRemoved, AccountID: accountID})
	return nil
}

// UpdateResource reconciles path for accountID, lazily creating that
// account's Resource Manager and Transfer Manager on first use.
func (s *Service) UpdateResource(accountID string, path types.Path, completion func(error)) error {
	entry, err := s.getOrCreateEntry(accountID)
	if err != nil {
		if completion != nil {
			completion(err)
		}
		return err
	}
	entry.manager.UpdateResource(path, completion)
	return nil
}

// Download requests a body transfer for id.
func (s *Service) Download(id types.ResourceID) error {
	entry, err := s.getOrCreateEntry(id.AccountID)
	if err != nil {
		return err
	}
	entry.xfer.Download(id)
	return nil
}

// Progress returns id's current download progress, or nil if it has none.
func (s *Service) Progress(id types.ResourceID) (*transfer.Progress, error) {
	s.mu.Lock()
	entry, ok := s.accounts[id.AccountID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return entry.xfer.Progress(id), nil
}

// InvalidateAndCancel cancels every in-flight download for accountID.
func (s *Service) InvalidateAndCancel(accountID string) error {
	s.mu.Lock()
	entry, ok := s.accounts[accountID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	entry.xfer.InvalidateAndCancel()
	return nil
}

// FinishTasksAndInvalidate lets accountID's in-flight downloads complete but
// accepts no new ones.
func (s *Service) FinishTasksAndInvalidate(accountID string) error {
	s.mu.Lock()
	entry, ok := s.accounts[accountID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	entry.xfer.FinishTasksAndInvalidate()
	return nil
}

// HandleEvents drains completion events for a transfer session identifier;
// a malformed identifier is rejected rather than guessed at.
func (s *Service) HandleEvents(sessionIdentifier string, completion func()) error {
	id, ok := transfer.ParseSessionIdentifier(sessionIdentifier)
	if !ok {
		return syncerrors.InvalidArgument(fmt.Sprintf("malformed session identifier %q", sessionIdentifier))
	}
	entry, err := s.getOrCreateEntry(id.AccountID)
	if err != nil {
		return err
	}
	entry.xfer.HandleEvents(sessionIdentifier, completion)
	return nil
}

// Close stops every account's domains and closes the Store.
func (s *Service) Close() error {
	s.mu.Lock()
	entries := make([]*accountEntry, 0, len(s.accounts))
	for _, e := range s.accounts {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.xfer.FinishTasksAndInvalidate()
	}
	s.accountQueue.Stop()
	close(s.events)
	return s.store.Close()
}

func (s *Service) getOrCreateEntry(accountID string) (*accountEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.accounts[accountID]; ok {
		return entry, nil
	}

	acct, err := s.store.GetAccount(accountID)
	if err != nil {
		return nil, err
	}

	var credential credentialSource
	if acct.AuthScheme == types.AuthSchemeOAuth2 && acct.OAuth2 != nil {
		oauthCfg := &oauth2.Config{
			ClientID:     acct.OAuth2.ClientID,
			ClientSecret: acct.OAuth2.ClientSecret,
			Scopes:       acct.OAuth2.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  acct.OAuth2.AuthURL,
				TokenURL: acct.OAuth2.TokenURL,
			},
		}
		oauthCredential, err := auth.NewOAuthCredentialSource(accountID, oauthCfg, s.credStore, s.cfg.OAuthOpenBrowser)
		if err != nil {
			return nil, err
		}
		credential = oauthCredential
	} else {
		passwordDelegate := func(ctx context.Context, id string) (string, error) {
			if s.cfg.Delegate == nil {
				return "", nil
			}
			return s.cfg.Delegate.NeedsPassword(ctx, id)
		}
		credential = auth.NewBasicCredentialSource(accountID, acct.Username, s.credStore, passwordDelegate)
	}

	client := remote.NewHTTPClient(remote.HTTPClientConfig{
		Timeout:     s.cfg.RequestTimeout,
		Credentials: credential,
		Logger:      s.logger,
	})

	resourcemgr := resourcemanager.New(resourcemanager.Config{
		Account:        acct,
		Client:         client,
		Store:          s.store,
		Logger:         s.logger,
		MaxRetries:     s.cfg.MaxRetries,
		RetryBaseDelay: s.cfg.RetryBaseDelay,
		OnChange: func(cs types.ChangeSet) {
			s.publish(Event{Kind: EventResourcesChanged, AccountID: accountID, Changes: cs})
		},
	})

	xferMgr, err := transfer.New(transfer.Config{
		Session:     transfer.SessionIdentifier{AccountID: accountID, BundleIdentifier: s.cfg.BundleIdentifier},
		Client:      client,
		Credentials: credential,
		Store:       s.store,
		Resolve:     resourcemgr.ResolveDownloadURL,
		Delegate:    &changePublishingTransferDelegate{svc: s, accountID: accountID},
		Logger:      s.logger,
		Concurrency: s.cfg.TransferConcurrency,
	})
	if err != nil {
		return nil, err
	}
	resourcemgr.SetDownloader(xferMgr)

	entry := &accountEntry{account: acct, manager: resourcemgr, xfer: xferMgr, credential: credential}
	s.accounts[accountID] = entry
	return entry, nil
}

// changePublishingTransferDelegate turns a finished download into a
// resourcesChanged event: a completed body is a change to FileState that no
// reconcile triggered, so the Resource Manager's own OnChange never sees it.
// Cancellation and failure only revert the resource's "downloading" file
// state back to "absent" and publish nothing.
type changePublishingTransferDelegate struct {
	svc       *Service
	accountID string
}

func (changePublishingTransferDelegate) DidStart(types.ResourceID)                      {}
func (changePublishingTransferDelegate) DidProgress(types.ResourceID, transfer.Progress) {}

func (d *changePublishingTransferDelegate) DidFinish(id types.ResourceID) {
	res, err := d.svc.store.Resource(id.AccountID, id.Path)
	if err != nil || res == nil {
		return
	}
	d.svc.publish(Event{
		Kind:      EventResourcesChanged,
		AccountID: d.accountID,
		Changes:   types.ChangeSet{InsertedOrUpdated: []types.Resource{*res}},
	})
}

func (changePublishingTransferDelegate) DidCancel(types.ResourceID)      {}
func (changePublishingTransferDelegate) DidFail(types.ResourceID, error) {}
