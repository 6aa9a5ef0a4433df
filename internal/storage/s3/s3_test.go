package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "github.com/scriptgate/scriptgate/internal/config"
	"github.com/scriptgate/scriptgate/internal/storage"
)

// ---------------------------------------------------------------------------
// New() - constructor validation (no AWS connection required)
// ---------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  appconfig.S3StorageConfig
	}{
		{"missing bucket", appconfig.S3StorageConfig{Region: "us-east-1"}},
		{"missing region", appconfig.S3StorageConfig{Bucket: "scripts"}},
		{"static without keys", appconfig.S3StorageConfig{Bucket: "scripts", Region: "us-east-1", AuthMethod: "static"}},
		{"unsupported method", appconfig.S3StorageConfig{Bucket: "scripts", Region: "us-east-1", AuthMethod: "kerberos"}},
		{"oidc without role", appconfig.S3StorageConfig{Bucket: "scripts", Region: "us-east-1", AuthMethod: "oidc", WebIdentityTokenFile: "/tmp/token"}},
		{"oidc without token file", appconfig.S3StorageConfig{Bucket: "scripts", Region: "us-east-1", AuthMethod: "oidc", RoleARN: "arn:aws:iam::123456789012:role/r"}},
		{"assume_role without role", appconfig.S3StorageConfig{Bucket: "scripts", Region: "us-east-1", AuthMethod: "assume_role"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&tt.cfg); err == nil {
				t.Error("New() = nil error, want validation error")
			}
		})
	}
}

func TestNew_AssumeRole_IsLazy(t *testing.T) {
	cfg := &appconfig.S3StorageConfig{
		Bucket:     "scripts",
		Region:     "us-east-1",
		AuthMethod: "assume_role",
		RoleARN:    "arn:aws:iam::123456789012:role/test-role",
		ExternalID: "external-id-123",
	}
	// STS is only contacted on first use.
	_, _ = New(cfg)
}

func TestNew_StaticAuth_WithEndpoint(t *testing.T) {
	s, err := New(&appconfig.S3StorageConfig{
		Bucket:          "scripts",
		Region:          "us-east-1",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "http://localhost:9000",
	})
	if err != nil {
		t.Fatalf("New() with custom endpoint error: %v", err)
	}
	if s.bucket != "scripts" {
		t.Errorf("bucket = %q, want scripts", s.bucket)
	}
}

// ---------------------------------------------------------------------------
// Mock S3-compatible HTTP server
// ---------------------------------------------------------------------------

type s3MockStore struct {
	mu           sync.Mutex
	objects      map[string][]byte
	meta         map[string]map[string]string
	contentTypes map[string]string
}

func (ms *s3MockStore) stored(key string) (map[string]string, string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.meta[key], ms.contentTypes[key]
}

// newS3TestStorage creates an S3Storage backed by a mock server speaking just
// enough path-style S3 REST for object CRUD.
func newS3TestStorage(t *testing.T) (*S3Storage, *s3MockStore) {
	t.Helper()

	ms := &s3MockStore{
		objects:      map[string][]byte{},
		meta:         map[string]map[string]string{},
		contentTypes: map[string]string{},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		idx := strings.IndexByte(path, '/')
		if idx < 0 {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		key := path[idx+1:]

		ms.mu.Lock()
		defer ms.mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			meta := map[string]string{}
			for hk, hv := range r.Header {
				lk := strings.ToLower(hk)
				if strings.HasPrefix(lk, "x-amz-meta-") && len(hv) > 0 {
					meta[strings.TrimPrefix(lk, "x-amz-meta-")] = hv[0]
				}
			}
			ms.objects[key] = data
			ms.meta[key] = meta
			ms.contentTypes[key] = r.Header.Get("Content-Type")
			w.Header().Set("ETag", `"test-etag"`)
			w.WriteHeader(http.StatusOK)

		case http.MethodGet:
			data, ok := ms.objects[key]
			if !ok {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
			w.WriteHeader(http.StatusOK)
			w.Write(data)

		case http.MethodHead:
			data, ok := ms.objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
			w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
			for mk, mv := range ms.meta[key] {
				w.Header().Set("x-amz-meta-"+mk, mv)
			}
			w.WriteHeader(http.StatusOK)

		case http.MethodDelete:
			delete(ms.objects, key)
			delete(ms.meta, key)
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	s, err := New(&appconfig.S3StorageConfig{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		AuthMethod:      "static",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		Endpoint:        srv.URL,
	})
	if err != nil {
		t.Fatalf("New() for mock S3: %v", err)
	}

	return s, ms
}

// ---------------------------------------------------------------------------
// Object operations
// ---------------------------------------------------------------------------

func TestS3_UploadStoresChecksumAndContentType(t *testing.T) {
	s, ms := newS3TestStorage(t)

	data := []byte("console.log('s3');")
	result, err := s.Upload(context.Background(), "script.js", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if result.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", result.Size, len(data))
	}
	meta, contentType := ms.stored("script.js")
	if got := meta["sha256"]; got != result.Checksum {
		t.Errorf("stored sha256 metadata = %q, want %q", got, result.Checksum)
	}
	if got := contentType; got != contentTypeJavaScript {
		t.Errorf("Content-Type = %q, want %q", got, contentTypeJavaScript)
	}
}

func TestS3_DownloadRoundTrip(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()

	want := []byte("download me from s3")
	if _, err := s.Upload(ctx, "dl.js", bytes.NewReader(want), int64(len(want))); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	rc, err := s.Download(ctx, "dl.js")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()

	if !bytes.Equal(got, want) {
		t.Errorf("Download content = %q, want %q", got, want)
	}
}

func TestS3_Download_NotFound(t *testing.T) {
	s, _ := newS3TestStorage(t)

	_, err := s.Download(context.Background(), "nonexistent.js")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download() error = %v, want ErrNotFound", err)
	}
}

func TestS3_ExistsAndDelete(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "gone.js")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if ok {
		t.Error("Exists = true for missing key, want false")
	}

	if _, err := s.Upload(ctx, "gone.js", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if ok, _ := s.Exists(ctx, "gone.js"); !ok {
		t.Error("Exists = false after upload, want true")
	}

	if err := s.Delete(ctx, "gone.js"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if ok, _ := s.Exists(ctx, "gone.js"); ok {
		t.Error("Exists = true after delete, want false")
	}
}

func TestS3_GetMetadata_UsesStoredChecksum(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()

	data := []byte("metadata content")
	uploaded, err := s.Upload(ctx, "meta.js", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	meta, err := s.GetMetadata(ctx, "meta.js")
	if err != nil {
		t.Fatalf("GetMetadata() error: %v", err)
	}
	if meta.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", meta.Size, len(data))
	}
	if meta.Checksum != uploaded.Checksum {
		t.Errorf("Checksum = %q, want %q", meta.Checksum, uploaded.Checksum)
	}
}

func TestS3_GetMetadata_ComputesMissingChecksum(t *testing.T) {
	s, ms := newS3TestStorage(t)

	ms.mu.Lock()
	ms.objects["foreign.js"] = []byte("hello")
	ms.meta["foreign.js"] = map[string]string{}
	ms.mu.Unlock()

	meta, err := s.GetMetadata(context.Background(), "foreign.js")
	if err != nil {
		t.Fatalf("GetMetadata() error: %v", err)
	}
	// sha256("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if meta.Checksum != want {
		t.Errorf("Checksum = %q, want %q", meta.Checksum, want)
	}
}

func TestS3_GetMetadata_NotFound(t *testing.T) {
	s, _ := newS3TestStorage(t)

	_, err := s.GetMetadata(context.Background(), "missing.js")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetMetadata() error = %v, want ErrNotFound", err)
	}
}
