// Package fake provides an in-memory remote.Client double for tests of the
// Resource Manager and Transfer Layer.
package fake

import (
	"context"
	"fmt"
	"os"
	"sync"

	syncerrors "github.com/lucidfs/davsync/internal/errors"
	"github.com/lucidfs/davsync/internal/remote"
	"github.com/lucidfs/davsync/internal/types"
)

// Entry is one canned PROPFIND response, keyed by URL.
type Entry struct {
	Exists   bool
	Self     types.Properties
	Children map[string]types.Properties
}

// Body is one canned download body, keyed by URL.
type Body struct {
	Content    []byte
	Version    string
	StatusCode int
	Err        error
}

// Client is a scripted remote.Client: callers preload Entries and Bodies,
// then exercise the Resource Manager or Transfer Layer against it.
type Client struct {
	mu       sync.Mutex
	Entries  map[string]Entry
	Bodies   map[string]Body
	Errs     map[string]error
	Requests []string
}

// New returns an empty scripted client.
func New() *Client {
	return &Client{
		Entries: make(map[string]Entry),
		Bodies:  make(map[string]Body),
		Errs:    make(map[string]error),
	}
}

var _ remote.Client = (*Client)(nil)

func (c *Client) RetrieveProperties(_ context.Context, url string) (remote.PropertyResult, error) {
	c.mu.Lock()
	c.Requests = append(c.Requests, "propfind:"+url)
	c.mu.Unlock()

	if err, ok := c.Errs[url]; ok {
		return remote.PropertyResult{}, err
	}
	entry, ok := c.Entries[url]
	if !ok {
		return remote.PropertyResult{}, syncerrors.Network("no fake entry for url", fmt.Errorf("%s", url))
	}
	if !entry.Exists {
		return remote.PropertyResult{Exists: false, StatusCode: 404}, nil
	}
	return remote.PropertyResult{
		Exists:     true,
		Self:       entry.Self,
		Children:   entry.Children,
		StatusCode: 207,
	}, nil
}

func (c *Client) Download(_ context.Context, url string, onProgress remote.ProgressFunc) (remote.DownloadResult, error) {
	c.mu.Lock()
	c.Requests = append(c.Requests, "download:"+url)
	c.mu.Unlock()

	body, ok := c.Bodies[url]
	if !ok {
		return remote.DownloadResult{}, syncerrors.Network("no fake body for url", fmt.Errorf("%s", url))
	}
	if body.Err != nil {
		return remote.DownloadResult{}, body.Err
	}

	f, err := os.CreateTemp("", "fake-download-*")
	if err != nil {
		return remote.DownloadResult{}, err
	}
	if _, err := f.Write(body.Content); err != nil {
		f.Close()
		return remote.DownloadResult{}, err
	}
	f.Close()

	if onProgress != nil {
		onProgress(int64(len(body.Content)), int64(len(body.Content)))
	}

	status := body.StatusCode
	if status == 0 {
		status = 200
	}
	return remote.DownloadResult{
		TemporaryLocalPath: f.Name(),
		Version:            body.Version,
		StatusCode:         status,
	}, nil
}
