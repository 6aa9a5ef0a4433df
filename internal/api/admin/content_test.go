package admin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scriptgate/scriptgate/internal/audit"
	"github.com/scriptgate/scriptgate/internal/config"
	"github.com/scriptgate/scriptgate/internal/content"
	"github.com/scriptgate/scriptgate/internal/middleware"
	"github.com/scriptgate/scriptgate/internal/storage"
	"github.com/scriptgate/scriptgate/internal/storage/local"
)

func newContentRouter(t *testing.T, store ContentStore) (*gin.Engine, *string) {
	t.Helper()
	h := NewContentHandlers(store)

	action := new(string)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Next()
		*action = c.GetString(middleware.AuditActionKey)
	})
	r.PUT("/content", h.PublishHandler())
	r.GET("/content", h.MetadataHandler())
	return r, action
}

func newLocalSource(t *testing.T) *content.Source {
	t.Helper()
	backend, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	return content.NewSource(backend, "script.js", time.Minute)
}

func putScript(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPut, "/content", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/javascript")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) Key() string { return "script.js" }

func (failingStore) Publish(context.Context, io.Reader, int64) (*storage.UploadResult, error) {
	return nil, errors.New("bucket unavailable")
}

func (failingStore) Metadata(context.Context) (*storage.FileMetadata, error) {
	return nil, errors.New("bucket unavailable")
}

// ---------------------------------------------------------------------------
// PublishHandler
// ---------------------------------------------------------------------------

func TestPublishHandler_ReplacesCachedScript(t *testing.T) {
	src := newLocalSource(t)
	r, action := newContentRouter(t, src)

	if w := putScript(r, "first();"); w.Code != http.StatusOK {
		t.Fatalf("first publish status = %d, want 200: %s", w.Code, w.Body.String())
	}
	body, err := src.Load(context.Background())
	if err != nil || string(body) != "first();" {
		t.Fatalf("Load = %q, %v", body, err)
	}

	w := putScript(r, "second();")
	if w.Code != http.StatusOK {
		t.Fatalf("second publish status = %d, want 200", w.Code)
	}
	published := getJSON(w)["content"].(map[string]interface{})
	if published["size"] != float64(len("second();")) {
		t.Errorf("size = %v, want %d", published["size"], len("second();"))
	}
	if *action != audit.ActionContentPublish {
		t.Errorf("audit action = %q, want %q", *action, audit.ActionContentPublish)
	}

	body, err = src.Load(context.Background())
	if err != nil || string(body) != "second();" {
		t.Errorf("Load after publish = %q, %v; want the new body", body, err)
	}
}

func TestPublishHandler_EmptyBody(t *testing.T) {
	r, _ := newContentRouter(t, newLocalSource(t))

	w := putScript(r, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPublishHandler_TooLarge(t *testing.T) {
	r, _ := newContentRouter(t, newLocalSource(t))

	w := putScript(r, strings.Repeat("x", MaxScriptSize+1))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestPublishHandler_StorageError(t *testing.T) {
	r, action := newContentRouter(t, failingStore{})

	w := putScript(r, "x();")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if *action != "" {
		t.Errorf("audit action = %q, want none", *action)
	}
}

// sha256("hello")
const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func putScriptWithChecksum(r *gin.Engine, body, sum string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPut, "/content", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/javascript")
	req.Header.Set(ChecksumHeader, sum)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPublishHandler_ChecksumMatches(t *testing.T) {
	r, _ := newContentRouter(t, newLocalSource(t))

	w := putScriptWithChecksum(r, "hello", strings.ToUpper(helloSHA256))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	published := getJSON(w)["content"].(map[string]interface{})
	if published["checksum"] != helloSHA256 {
		t.Errorf("checksum = %v, want %s", published["checksum"], helloSHA256)
	}
}

func TestPublishHandler_ChecksumMismatch(t *testing.T) {
	src := newLocalSource(t)
	r, action := newContentRouter(t, src)

	w := putScriptWithChecksum(r, "hello!", helloSHA256)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if *action != "" {
		t.Errorf("audit action = %q, want none", *action)
	}
	if _, err := src.Metadata(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Metadata error = %v, want ErrNotFound: nothing may be stored", err)
	}
}

// ---------------------------------------------------------------------------
// MetadataHandler
// ---------------------------------------------------------------------------

func TestMetadataHandler_NothingPublished(t *testing.T) {
	r, _ := newContentRouter(t, newLocalSource(t))

	w := serve(r, "GET", "/content", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestMetadataHandler_AfterPublish(t *testing.T) {
	r, _ := newContentRouter(t, newLocalSource(t))
	putScript(r, "hello")

	w := serve(r, "GET", "/content", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	meta := getJSON(w)["content"].(map[string]interface{})
	// sha256("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if meta["checksum"] != want {
		t.Errorf("checksum = %v, want %s", meta["checksum"], want)
	}
}

func TestMetadataHandler_StorageError(t *testing.T) {
	r, _ := newContentRouter(t, failingStore{})

	w := serve(r, "GET", "/content", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
