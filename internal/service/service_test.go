package service

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lucidfs/davsync/internal/auth"
	"github.com/lucidfs/davsync/internal/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Config{Directory: t.TempDir(), ForcePlainFileCredentials: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

type eventRecorder struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
}

func newEventRecorder() *eventRecorder {
	r := &eventRecorder{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *eventRecorder) waitFor(n int, timeout time.Duration) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	deadline := time.Now().Add(timeout)
	for len(r.events) < n {
		if time.Now().After(deadline) {
			return nil
		}
		r.mu.Unlock()
		time.Sleep(time.Millisecond)
		r.mu.Lock()
	}
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// TestService_AddAccountPublishesEvent covers §4.4's accountAdded event and
// verifies AddAccount forwards to the Store.
func TestService_AddAccountPublishesEvent(t *testing.T) {
	svc := newTestService(t)
	rec := newEventRecorder()
	unsubscribe := svc.Subscribe(rec.record)
	defer unsubscribe()

	acct, err := svc.AddAccount("https://example.com/api/", "juliet")
	if err != nil {
		t.Fatalf("AddAccount() error = %v", err)
	}
	if acct.ID == "" {
		t.Fatal("expected a non-empty account id")
	}

	events := rec.waitFor(1, 2*time.Second)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != EventAccountAdded || events[0].AccountID != acct.ID {
		t.Errorf("unexpected event: %+v", events[0])
	}

	accounts, err := svc.Accounts()
	if err != nil {
		t.Fatalf("Accounts() error = %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != acct.ID {
		t.Errorf("Accounts() = %+v, want single account %q", accounts, acct.ID)
	}
}

// TestService_UpdateAccountPublishesEvent covers accountUpdated.
func TestService_UpdateAccountPublishesEvent(t *testing.T) {
	svc := newTestService(t)
	acct, err := svc.AddAccount("https://example.com/api/", "juliet")
	if err != nil {
		t.Fatalf("AddAccount() error = %v", err)
	}

	rec := newEventRecorder()
	defer svc.Subscribe(rec.record)()

	updated, err := svc.UpdateAccount(acct.ID, "Work")
	if err != nil {
		t.Fatalf("UpdateAccount() error = %v", err)
	}
	if updated.Label != "Work" {
		t.Errorf("Label = %q, want Work", updated.Label)
	}

	events := rec.waitFor(1, 2*time.Second)
	if len(events) != 1 || events[0].Kind != EventAccountUpdated {
		t.Fatalf("unexpected events: %+v", events)
	}
}

// TestService_RemoveAccountPublishesEvent covers accountRemoved and that the
// removed account no longer appears in Accounts().
func TestService_RemoveAccountPublishesEvent(t *testing.T) {
	svc := newTestService(t)
	acct, err := svc.AddAccount("https://example.com/api/", "juliet")
	if err != nil {
		t.Fatalf("AddAccount() error = %v", err)
	}

	rec := newEventRecorder()
	defer svc.Subscribe(rec.record)()

	if err := svc.RemoveAccount(acct.ID); err != nil {
		t.Fatalf("RemoveAccount() error = %v", err)
	}

	events := rec.waitFor(1, 2*time.Second)
	if len(events) != 1 || events[0].Kind != EventAccountRemoved || events[0].AccountID != acct.ID {
		t.Fatalf("unexpected events: %+v", events)
	}

	accounts, err := svc.Accounts()
	if err != nil {
		t.Fatalf("Accounts() error = %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("expected no accounts left, got %+v", accounts)
	}
}

// TestService_UpdateResourceUnknownAccountFails asserts an unregistered
// account id is rejected rather than silently creating an entry.
func TestService_UpdateResourceUnknownAccountFails(t *testing.T) {
	svc := newTestService(t)

	done := make(chan error, 1)
	err := svc.UpdateResource("does-not-exist", types.Path{"a"}, func(err error) { done <- err })
	if err == nil {
		t.Fatal("expected an error for an unknown account")
	}
	select {
	case completionErr := <-done:
		if completionErr == nil {
			t.Error("expected completion to receive an error")
		}
	case <-time.After(time.Second):
		t.Fatal("completion was never invoked")
	}
}

// TestService_HandleEventsRejectsMalformedIdentifier covers §6's wire format
// validation for session identifiers.
func TestService_HandleEventsRejectsMalformedIdentifier(t *testing.T) {
	svc := newTestService(t)
	if err := svc.HandleEvents("not-a-valid-identifier", func() {}); err == nil {
		t.Fatal("expected an error for a malformed session identifier")
	}
}

// TestService_UpdateResourceReconcilesOverRealHTTP exercises the full lazy
// wiring path: a UpdateResource call against a never-before-seen account
// constructs its Resource Manager, Transfer Manager, and credential-backed
// HTTPClient, performs a real PROPFIND against a test server, and publishes
// resourcesChanged.
func TestService_UpdateResourceReconcilesOverRealHTTP(t *testing.T) {
	const multistatus = `<?xml version="1.0" encoding="utf-8" ?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/api/report.pdf</D:href>
    <D:propstat>
      <D:prop>
        <D:resourcetype/>
        <D:getetag>"v1"</D:getetag>
        <D:getcontenttype>application/pdf</D:getcontenttype>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(multistatus))
	}))
	defer srv.Close()

	svc := newTestService(t)
	acct, err := svc.AddAccount(srv.URL+"/api/", "juliet")
	if err != nil {
		t.Fatalf("AddAccount() error = %v", err)
	}
	// The test server does not check credentials; a stored password lets the
	// Basic credential source build a header instead of cancelling.
	if err := svc.credStore.Save(acct.ID, auth.Credentials{Username: "juliet", Password: "x"}); err != nil {
		t.Fatalf("credStore.Save() error = %v", err)
	}

	rec := newEventRecorder()
	defer svc.Subscribe(rec.record)()

	done := make(chan error, 1)
	if err := svc.UpdateResource(acct.ID, types.Path{"report.pdf"}, func(err error) { done <- err }); err != nil {
		t.Fatalf("UpdateResource() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("UpdateResource completion error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for UpdateResource completion")
	}

	events := rec.waitFor(1, 2*time.Second)
	if len(events) != 1 || events[0].Kind != EventResourcesChanged {
		t.Fatalf("unexpected events: %+v", events)
	}

	if _, err := svc.Progress(types.ResourceID{AccountID: acct.ID, Path: types.Path{"report.pdf"}}); err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
}
