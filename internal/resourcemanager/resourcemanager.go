// Package resourcemanager implements the per-account reconciler: it drives
// the Store toward consistency with one account's remote tree and hands
// stale bodies to the Transfer Layer.
package resourcemanager

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	syncerrors "github.com/lucidfs/davsync/internal/errors"
	"github.com/lucidfs/davsync/internal/logging"
	"github.com/lucidfs/davsync/internal/queue"
	"github.com/lucidfs/davsync/internal/remote"
	"github.com/lucidfs/davsync/internal/store"
	"github.com/lucidfs/davsync/internal/types"
)

// Downloader is the subset of transfer.Manager the Resource Manager drives:
// hand a ResourceID to the Transfer Layer, fire-and-forget.
type Downloader interface {
	Download(id types.ResourceID)
}

// Config configures a new Manager.
type Config struct {
	Account        types.Account
	Client         remote.Client
	Store          *store.Store
	Downloader     Downloader
	OnChange       func(types.ChangeSet)
	Logger         logging.Logger
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Manager is the Resource Manager for one account. Exactly one exists per
// account, process-wide (the Service Facade enforces this).
type Manager struct {
	account        types.Account
	client         remote.Client
	store          *store.Store
	downloader     Downloader
	onChange       func(types.ChangeSet)
	logger         logging.Logger
	maxRetries     int
	retryBaseDelay time.Duration

	queue *queue.Queue // the Store/Manager domain for this account

	mu       sync.Mutex
	inflight map[string][]func(error)
}

// New constructs a Manager for one account.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	retryBaseDelay := cfg.RetryBaseDelay
	if retryBaseDelay <= 0 {
		retryBaseDelay = 500 * time.Millisecond
	}
	return &Manager{
		account:        cfg.Account,
		client:         cfg.Client,
		store:          cfg.Store,
		downloader:     cfg.Downloader,
		onChange:       cfg.OnChange,
		logger:         logger,
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: retryBaseDelay,
		queue:          queue.New(64),
		inflight:       make(map[string][]func(error)),
	}
}

// SetDownloader installs the Downloader after construction, for the
// Service Facade's circular wiring: the Transfer Manager's URLResolver is
// this Manager's own ResolveDownloadURL method, so one of the two must be
// built before the other and patched in afterward.
func (m *Manager) SetDownloader(d Downloader) {
	m.mu.Lock()
	m.downloader = d
	m.mu.Unlock()
}

// UpdateResource reconciles the subtree rooted at path, invoking completion
// with the outcome. A second call for a path already in flight coalesces:
// both completions fire with the one in-flight request's outcome.
func (m *Manager) UpdateResource(path types.Path, completion func(error)) {
	key := pathKey(path)

	m.mu.Lock()
	if waiters, inflight := m.inflight[key]; inflight {
		m.inflight[key] = append(waiters, completion)
		m.mu.Unlock()
		return
	}
	m.inflight[key] = []func(error){completion}
	m.mu.Unlock()

	_ = m.queue.Submit(func() {
		err := m.reconcile(path)

		m.mu.Lock()
		waiters := m.inflight[key]
		delete(m.inflight, key)
		m.mu.Unlock()

		for _, w := range waiters {
			if w != nil {
				w(err)
			}
		}
	})
}

// reconcile runs the reconcile algorithm for one path. It never recurses
// into discovered children on its own (Open Question (a): lazy, explicit
// recursion only).
func (m *Manager) reconcile(path types.Path) error {
	existing, err := m.store.Resource(m.account.ID, path)
	if err != nil {
		return err
	}
	trailingSlash := existing == nil || existing.IsCollection
	reqURL := composeURL(m.account.BaseURL, path, trailingSlash)

	reqCtx := types.RequestContext{
		AccountID:   m.account.ID,
		RequestType: types.RequestTypeRetrieveProperties,
		TraceID:     uuid.NewString(),
	}

	result, err := remote.ExecuteWithRetry(context.Background(), m.logger, reqCtx, m.maxRetries, m.retryBaseDelay,
		func() (remote.PropertyResult, error) {
			return m.client.RetrieveProperties(context.Background(), reqURL)
		})
	if err != nil {
		return err
	}

	var cs types.ChangeSet
	if !result.Exists {
		cs, err = m.store.Update(m.account.ID, path, nil, nil)
	} else {
		cs, err = m.store.Update(m.account.ID, path, &result.Self, result.Children)
	}
	if err != nil {
		return err
	}

	if m.onChange != nil && !cs.Empty() {
		m.onChange(cs)
	}

	m.mu.Lock()
	downloader := m.downloader
	m.mu.Unlock()

	if downloader != nil {
		for _, r := range cs.InsertedOrUpdated {
			if r.IsCollection {
				continue
			}
			if r.FileState.Kind != types.FileStatePresent || r.FileState.StoredVersion != r.Version {
				downloader.Download(types.ResourceID{AccountID: m.account.ID, Path: r.Path})
			}
		}
	}

	return nil
}

// ResolveDownloadURL implements transfer.URLResolver for this account's
// Transfer Layer. The Transfer Layer only ever downloads non-collection
// resources, so the composed URL never carries a trailing slash.
func (m *Manager) ResolveDownloadURL(id types.ResourceID) (string, error) {
	if id.AccountID != m.account.ID {
		return "", syncerrors.InvalidArgument("resource belongs to a different account")
	}
	return composeURL(m.account.BaseURL, id.Path, false), nil
}

// composeURL implements S4's URL composition rule exactly: account.baseURL
// joined with the percent-encoded path components, with a trailing slash
// when trailingSlash is set.
func composeURL(baseURL string, path types.Path, trailingSlash bool) string {
	base := strings.TrimRight(baseURL, "/")
	var b strings.Builder
	b.WriteString(base)
	for _, c := range path {
		b.WriteString("/")
		b.WriteString(url.PathEscape(c))
	}
	if trailingSlash {
		b.WriteString("/")
	}
	return b.String()
}

func pathKey(path types.Path) string {
	return strings.Join(path, "\x1f")
}
