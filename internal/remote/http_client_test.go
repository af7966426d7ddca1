package remote

import "testing"

const sampleMultistatus = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/api/a/b/</D:href>
    <D:propstat>
      <D:prop>
        <D:resourcetype><D:collection/></D:resourcetype>
        <D:getetag>"root-etag"</D:getetag>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>/api/a/b/c</D:href>
    <D:propstat>
      <D:prop>
        <D:resourcetype/>
        <D:getetag>"c-etag"</D:getetag>
        <D:getcontenttype>application/pdf</D:getcontenttype>
        <D:getcontentlength>55555</D:getcontentlength>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

func TestParseMultiStatus(t *testing.T) {
	result, err := parseMultiStatus("https://example.com/api/a/b/", []byte(sampleMultistatus))
	if err != nil {
		t.Fatalf("parseMultiStatus() error = %v", err)
	}
	if !result.Self.IsCollection {
		t.Error("expected self to be a collection")
	}
	if result.Self.Version != "root-etag" {
		t.Errorf("expected self version root-etag, got %q", result.Self.Version)
	}
	child, ok := result.Children["c"]
	if !ok {
		t.Fatalf("expected child 'c', got %v", result.Children)
	}
	if child.IsCollection {
		t.Error("expected child 'c' to not be a collection")
	}
	if child.Version != "c-etag" {
		t.Errorf("expected child version c-etag, got %q", child.Version)
	}
	if child.ContentType == nil || *child.ContentType != "application/pdf" {
		t.Errorf("expected child content type application/pdf, got %v", child.ContentType)
	}
	if child.ContentLength == nil || *child.ContentLength != 55555 {
		t.Errorf("expected child content length 55555, got %v", child.ContentLength)
	}
}

func TestParseMultiStatus_MissingSelf(t *testing.T) {
	body := `<?xml version="1.0"?><D:multistatus xmlns:D="DAV:"></D:multistatus>`
	if _, err := parseMultiStatus("https://example.com/api/a/", []byte(body)); err == nil {
		t.Error("expected error for multistatus with no self entry")
	}
}

func TestClassifyStatus(t *testing.T) {
	if err := classifyStatus(200, 200); err != nil {
		t.Errorf("expected nil for 200, got %v", err)
	}
	if err := classifyStatus(401); err == nil {
		t.Error("expected error for 401")
	}
	if err := classifyStatus(500); err == nil {
		t.Error("expected error for 500")
	}
}
