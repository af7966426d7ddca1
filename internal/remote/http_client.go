package remote

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	syncerrors "github.com/lucidfs/davsync/internal/errors"
	"github.com/lucidfs/davsync/internal/logging"
	"github.com/lucidfs/davsync/internal/types"
)

// HTTPClient is the engine's default Client implementation: PROPFIND for
// property retrieval, GET for bodies, both over net/http.
type HTTPClient struct {
	httpClient  *http.Client
	credentials CredentialSource
	logger      logging.Logger
	tempDir     string
}

// HTTPClientConfig configures a new HTTPClient.
type HTTPClientConfig struct {
	Timeout     time.Duration
	Credentials CredentialSource
	Logger      logging.Logger
	TempDir     string
}

// NewHTTPClient builds a Client that speaks WebDAV PROPFIND/GET over
// net/http.
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	tempDir := config.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &HTTPClient{
		httpClient:  &http.Client{Timeout: timeout},
		credentials: config.Credentials,
		logger:      logger,
		tempDir:     tempDir,
	}
}

const propfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:resourcetype/>
    <D:getetag/>
    <D:getcontenttype/>
    <D:getcontentlength/>
    <D:getlastmodified/>
  </D:prop>
</D:propfind>`

// RetrieveProperties issues a Depth: 1 PROPFIND and parses the multistatus
// response into self- and child-properties.
func (c *HTTPClient) RetrieveProperties(ctx context.Context, requestURL string) (PropertyResult, error) {
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", requestURL, bytes.NewBufferString(propfindBody))
	if err != nil {
		return PropertyResult{}, syncerrors.InvalidArgument("malformed request url")
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", "1")
	if err := c.applyCredentials(ctx, req); err != nil {
		return PropertyResult{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PropertyResult{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return PropertyResult{Exists: false, StatusCode: resp.StatusCode}, nil
	}
	if err := classifyStatus(resp.StatusCode, http.StatusMultiStatus, http.StatusOK); err != nil {
		return PropertyResult{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return PropertyResult{}, syncerrors.Network("failed to read response body", err)
	}

	result, err := parseMultiStatus(requestURL, body)
	if err != nil {
		return PropertyResult{}, syncerrors.Protocol(err.Error())
	}
	result.StatusCode = resp.StatusCode
	result.Exists = true
	return result, nil
}

// Download fetches the body at requestURL into a temporary file, reporting
// progress as bytes arrive.
func (c *HTTPClient) Download(ctx context.Context, requestURL string, onProgress ProgressFunc) (DownloadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return DownloadResult{}, syncerrors.InvalidArgument("malformed request url")
	}
	if err := c.applyCredentials(ctx, req); err != nil {
		return DownloadResult{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return DownloadResult{}, syncerrors.Cancelled()
		}
		return DownloadResult{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, http.StatusOK); err != nil {
		return DownloadResult{}, err
	}

	tmp, err := os.CreateTemp(c.tempDir, "davsync-download-*")
	if err != nil {
		return DownloadResult{}, syncerrors.Storage("failed to create temporary file", err)
	}
	defer tmp.Close()

	total := resp.ContentLength
	var completed int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := tmp.Write(buf[:n]); writeErr != nil {
				_ = os.Remove(tmp.Name())
				return DownloadResult{}, syncerrors.Storage("failed to write temporary file", writeErr)
			}
			completed += int64(n)
			if onProgress != nil {
				onProgress(completed, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = os.Remove(tmp.Name())
			if ctx.Err() != nil {
				return DownloadResult{}, syncerrors.Cancelled()
			}
			return DownloadResult{}, syncerrors.Network("failed to read response body", readErr)
		}
	}

	etag := strings.Trim(resp.Header.Get("Etag"), `"`)
	return DownloadResult{
		TemporaryLocalPath: tmp.Name(),
		Version:            etag,
		StatusCode:         resp.StatusCode,
	}, nil
}

func (c *HTTPClient) applyCredentials(ctx context.Context, req *http.Request) error {
	if c.credentials == nil {
		return nil
	}
	header, err := c.credentials.AuthorizationHeader(ctx)
	if err != nil {
		if _, ok := syncerrors.As(err); ok {
			return err
		}
		return syncerrors.AuthenticationRequired(err.Error())
	}
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	return nil
}

// multistatus mirrors the WebDAV DAV:multistatus response shape, restricted
// to the properties the engine cares about.
type multistatus struct {
	XMLName   xml.Name    `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href      string        `xml:"href"`
	Propstats []davPropstat `xml:"propstat"`
}

type davPropstat struct {
	Prop   davProp `xml:"prop"`
	Status string  `xml:"status"`
}

type davProp struct {
	ResourceType    *davResourceType `xml:"resourcetype"`
	ETag            string           `xml:"getetag"`
	ContentType     string           `xml:"getcontenttype"`
	ContentLength   string           `xml:"getcontentlength"`
	LastModified    string           `xml:"getlastmodified"`
}

type davResourceType struct {
	Collection *struct{} `xml:"collection"`
}

func parseMultiStatus(requestURL string, body []byte) (PropertyResult, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return PropertyResult{}, fmt.Errorf("malformed multistatus response: %w", err)
	}

	parsedRequestURL, err := url.Parse(requestURL)
	if err != nil {
		return PropertyResult{}, fmt.Errorf("malformed request url: %w", err)
	}
	requestPath := strings.TrimSuffix(parsedRequestURL.Path, "/")

	result := PropertyResult{Children: make(map[string]types.Properties)}
	haveSelf := false

	for _, r := range ms.Responses {
		hrefURL, err := url.Parse(r.Href)
		if err != nil {
			continue
		}
		props, ok := propertiesFromPropstats(r.Propstats)
		if !ok {
			continue
		}

		hrefPath := strings.TrimSuffix(hrefURL.Path, "/")
		if hrefPath == requestPath {
			result.Self = props
			haveSelf = true
			continue
		}
		name := path.Base(hrefPath)
		if name == "" || name == "." || name == "/" {
			continue
		}
		result.Children[name] = props
	}

	if !haveSelf {
		return PropertyResult{}, fmt.Errorf("multistatus response missing self entry for %s", requestPath)
	}
	return result, nil
}

func propertiesFromPropstats(propstats []davPropstat) (types.Properties, bool) {
	for _, ps := range propstats {
		if !strings.Contains(ps.Status, "200") {
			continue
		}
		props := types.Properties{
			IsCollection: ps.Prop.ResourceType != nil && ps.Prop.ResourceType.Collection != nil,
			Version:      strings.Trim(ps.Prop.ETag, `"`),
		}
		if ps.Prop.ContentType != "" {
			ct := ps.Prop.ContentType
			props.ContentType = &ct
		}
		if ps.Prop.ContentLength != "" {
			if n, err := strconv.ParseInt(ps.Prop.ContentLength, 10, 64); err == nil {
				props.ContentLength = &n
			}
		}
		if ps.Prop.LastModified != "" {
			if t, err := time.Parse(time.RFC1123, ps.Prop.LastModified); err == nil {
				props.Modified = &t
			}
		}
		return props, true
	}
	return types.Properties{}, false
}

// SniffContentType is used when the remote omits getcontenttype: it detects
// the MIME type from the first bytes of a downloaded body.
func SniffContentType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	return mtype.String(), nil
}
