// Package remote defines the engine's boundary contract with the remote
// WebDAV-style server and provides a default net/http implementation of it.
package remote

import (
	"context"

	"github.com/lucidfs/davsync/internal/types"
)

// PropertyResult is the parsed response of a PROPFIND-style request: the
// requested resource's own properties plus, for a collection, one level of
// named children.
type PropertyResult struct {
	// Exists is false when the remote reports the resource does not exist
	// (404 or equivalent); Self and Children are meaningless in that case.
	Exists bool

	Self     types.Properties
	Children map[string]types.Properties

	StatusCode int
}

// DownloadResult is the outcome of a successful body fetch: a temporary
// local file holding the body, plus the version (etag) the server reported.
type DownloadResult struct {
	TemporaryLocalPath string
	Version            string
	StatusCode         int
}

// ProgressFunc is invoked periodically during a Download with the number of
// bytes transferred so far and, when known, the total.
type ProgressFunc func(completed, total int64)

// Client is the consumed contract described by the specification's external
// interfaces: retrieveProperties and download. Implementations surface
// failures as *errors.SyncError with Kind one of network,
// authenticationRequired, protocol, unexpectedStatus, cancelled,
// invalidArgument (a malformed URL), or storage (a temporary-file failure).
type Client interface {
	// RetrieveProperties fetches self-properties and one level of children
	// for url. It is the engine's only remote read operation; recursion
	// into children is driven by the caller issuing further requests.
	RetrieveProperties(ctx context.Context, url string) (PropertyResult, error)

	// Download fetches the body at url, writing it to a temporary file and
	// reporting progress as bytes arrive. The caller owns the returned
	// temporary file and must hand it to Store.MoveFile or remove it.
	Download(ctx context.Context, url string, onProgress ProgressFunc) (DownloadResult, error)
}

// CredentialSource supplies an Authorization header value for outgoing
// requests, or empty to send none. The implementations in internal/auth
// supply an HTTP Basic header or an OAuth2 bearer token.
type CredentialSource interface {
	AuthorizationHeader(ctx context.Context) (string, error)
}
