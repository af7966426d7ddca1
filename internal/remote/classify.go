package remote

import (
	syncerrors "github.com/lucidfs/davsync/internal/errors"
)

// classifyStatus maps an HTTP status code from a PROPFIND or GET response to
// the engine's error taxonomy. successCodes lists the status codes the
// caller treats as a successful response (a PROPFIND accepts 207 and 200; a
// GET accepts only 200); anything else is classified as either an
// authentication challenge (401/403) or an unexpectedStatus, so callers can
// forward a credential challenge upward instead of treating it as a generic
// failure. 429 and 5xx fall into unexpectedStatus with Retryable() true.
func classifyStatus(status int, successCodes ...int) error {
	for _, sc := range successCodes {
		if status == sc {
			return nil
		}
	}
	if status == 401 || status == 403 {
		return syncerrors.AuthenticationRequired("remote requires authentication")
	}
	return syncerrors.UnexpectedStatus(status)
}

// classifyTransportError wraps a low-level transport failure (DNS, TCP,
// TLS, context deadline) as a network error, unless it is already a
// *SyncError (e.g. produced by classifyStatus or a caller further up).
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if se, ok := syncerrors.As(err); ok {
		return se
	}
	return syncerrors.Network("remote request failed", err)
}
