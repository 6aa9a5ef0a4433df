package audit_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scriptgate/scriptgate/internal/audit"
	"github.com/scriptgate/scriptgate/internal/config"
)

// ---------------------------------------------------------------------------
// ConfigsFromSettings
// ---------------------------------------------------------------------------

func TestConfigsFromSettings_Disabled(t *testing.T) {
	got := audit.ConfigsFromSettings(config.AuditConfig{
		Enabled:  false,
		Shippers: []config.AuditShipperConfig{{Enabled: true, Type: "file"}},
	})
	if len(got) != 0 {
		t.Errorf("len = %d, want 0 when audit disabled", len(got))
	}
}

func TestConfigsFromSettings_ConvertsDurations(t *testing.T) {
	got := audit.ConfigsFromSettings(config.AuditConfig{
		Enabled: true,
		Shippers: []config.AuditShipperConfig{
			{
				Enabled: true,
				Type:    "webhook",
				Webhook: &config.AuditWebhookConfig{URL: "http://siem", TimeoutSecs: 3, BatchSize: 10, FlushInterval: 2},
			},
			{Enabled: true, Type: "file", File: &config.AuditFileConfig{Path: "/tmp/a.log", MaxSizeMB: 5, MaxBackups: 2}},
		},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Webhook.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", got[0].Webhook.Timeout)
	}
	if got[0].Webhook.FlushInterval != 2*time.Second {
		t.Errorf("FlushInterval = %v, want 2s", got[0].Webhook.FlushInterval)
	}
	if got[1].File.Path != "/tmp/a.log" || got[1].File.MaxBackups != 2 {
		t.Errorf("File = %+v", got[1].File)
	}
}

// ---------------------------------------------------------------------------
// MultiShipper
// ---------------------------------------------------------------------------

func TestMultiShipper_Empty(t *testing.T) {
	ms, err := audit.NewMultiShipper(nil)
	if err != nil {
		t.Fatalf("NewMultiShipper(nil) error: %v", err)
	}
	if ms.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ms.Len())
	}
	if err := ms.Ship(context.Background(), &audit.LogEntry{Action: audit.ActionDelivery}); err != nil {
		t.Errorf("Ship() on empty multi-shipper = %v, want nil", err)
	}
	if err := ms.Close(); err != nil {
		t.Errorf("Close() on empty multi-shipper = %v, want nil", err)
	}
}

func TestNewMultiShipper_DisabledConfigSkipped(t *testing.T) {
	cfgs := []audit.ShipperConfig{
		{Enabled: false, Type: "webhook", Webhook: &audit.WebhookConfig{URL: "http://example.com"}},
	}
	ms, err := audit.NewMultiShipper(cfgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ms.Len())
	}
}

func TestNewMultiShipper_InvalidConfigs(t *testing.T) {
	tests := []struct {
		name string
		cfg  audit.ShipperConfig
	}{
		{"unknown type", audit.ShipperConfig{Enabled: true, Type: "syslog"}},
		{"webhook nil config", audit.ShipperConfig{Enabled: true, Type: "webhook"}},
		{"webhook empty url", audit.ShipperConfig{Enabled: true, Type: "webhook", Webhook: &audit.WebhookConfig{}}},
		{"file nil config", audit.ShipperConfig{Enabled: true, Type: "file"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := audit.NewMultiShipper([]audit.ShipperConfig{tt.cfg}); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestMultiShipper_FillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	ms, err := audit.NewMultiShipper([]audit.ShipperConfig{
		{Enabled: true, Type: "file", File: &audit.FileConfig{Path: path}},
	})
	if err != nil {
		t.Fatalf("NewMultiShipper error: %v", err)
	}

	entry := &audit.LogEntry{Action: audit.ActionAccountTopUp, Username: "alice"}
	if err := ms.Ship(context.Background(), entry); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	ms.Close()

	if entry.Timestamp.IsZero() {
		t.Error("Timestamp was not filled in")
	}
	if entry.ResourceType != "account" {
		t.Errorf("ResourceType = %q, want account", entry.ResourceType)
	}
}

func TestMultiShipper_ContinuesAfterShipperError(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	var delivered int32
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&delivered, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	ms, err := audit.NewMultiShipper([]audit.ShipperConfig{
		{Enabled: true, Type: "webhook", Webhook: &audit.WebhookConfig{URL: failing.URL, Timeout: time.Second}},
		{Enabled: true, Type: "webhook", Webhook: &audit.WebhookConfig{URL: healthy.URL, Timeout: time.Second}},
	})
	if err != nil {
		t.Fatalf("NewMultiShipper error: %v", err)
	}
	defer ms.Close()

	if err := ms.Ship(context.Background(), &audit.LogEntry{Action: audit.ActionDelivery}); err == nil {
		t.Error("Ship() = nil, want error from first shipper")
	}
	if got := atomic.LoadInt32(&delivered); got != 1 {
		t.Errorf("second shipper received %d calls, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// WebhookShipper
// ---------------------------------------------------------------------------

func TestWebhookShipper_ShipEntry(t *testing.T) {
	var received bytes.Buffer
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		received.ReadFrom(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{URL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewWebhookShipper error: %v", err)
	}
	defer ws.Close()

	entry := &audit.LogEntry{
		Action:   audit.ActionDelivery,
		Outcome:  audit.OutcomeDenied,
		Username: "bob",
		Message:  "no credits remaining",
	}
	if err := ws.Ship(context.Background(), entry); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	var decoded audit.LogEntry
	if err := json.Unmarshal(received.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal request body: %v", err)
	}
	if decoded.Username != "bob" || decoded.Outcome != audit.OutcomeDenied {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWebhookShipper_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{URL: srv.URL, Timeout: 5 * time.Second})
	defer ws.Close()

	if err := ws.Ship(context.Background(), &audit.LogEntry{Action: "err"}); err == nil {
		t.Error("Ship() = nil, want error for 502 response")
	}
}

func TestWebhookShipper_CustomHeader(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Auth-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:     srv.URL,
		Timeout: 5 * time.Second,
		Headers: map[string]string{"X-Auth-Token": "secret"},
	})
	defer ws.Close()

	ws.Ship(context.Background(), &audit.LogEntry{Action: "header.test"})
	if gotToken != "secret" {
		t.Errorf("X-Auth-Token = %q, want secret", gotToken)
	}
}

func TestWebhookShipper_CloseTwice(t *testing.T) {
	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{URL: "http://localhost:0", BatchSize: 10})
	if err != nil {
		t.Fatalf("NewWebhookShipper: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
	ws.Close()
}

func TestWebhookShipper_BatchFlushOnSize(t *testing.T) {
	bodies := make(chan []byte, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		buf.ReadFrom(r.Body)
		w.WriteHeader(http.StatusOK)
		bodies <- buf.Bytes()
	}))
	defer srv.Close()

	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:           srv.URL,
		Timeout:       5 * time.Second,
		BatchSize:     2,
		FlushInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewWebhookShipper error: %v", err)
	}
	defer ws.Close()

	ws.Ship(context.Background(), &audit.LogEntry{Action: "one"})
	ws.Ship(context.Background(), &audit.LogEntry{Action: "two"})

	select {
	case body := <-bodies:
		var batch []audit.LogEntry
		if err := json.Unmarshal(body, &batch); err != nil {
			t.Fatalf("batch body is not a JSON array: %v", err)
		}
		if len(batch) != 2 {
			t.Errorf("batch len = %d, want 2", len(batch))
		}
	case <-time.After(3 * time.Second):
		t.Error("timed out waiting for size-triggered flush")
	}
}

func TestWebhookShipper_BatchFlushOnInterval(t *testing.T) {
	done := make(chan struct{}, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:           srv.URL,
		Timeout:       5 * time.Second,
		BatchSize:     100,
		FlushInterval: 50 * time.Millisecond,
	})
	defer ws.Close()

	ws.Ship(context.Background(), &audit.LogEntry{Action: "interval-flush"})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Error("timed out waiting for interval flush")
	}
}

func TestWebhookShipper_BatchFlushOnClose(t *testing.T) {
	done := make(chan struct{}, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:           srv.URL,
		Timeout:       5 * time.Second,
		BatchSize:     100,
		FlushInterval: time.Minute,
	})

	ws.Ship(context.Background(), &audit.LogEntry{Action: "flush-on-close"})
	ws.Close()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Error("timed out waiting for close-triggered flush")
	}
}

// ---------------------------------------------------------------------------
// FileShipper
// ---------------------------------------------------------------------------

func TestFileShipper_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	fs, err := audit.NewFileShipper(&audit.FileConfig{Path: path})
	if err != nil {
		t.Fatalf("NewFileShipper error: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := fs.Ship(context.Background(), &audit.LogEntry{Action: audit.ActionDelivery, StatusCode: 200 + i}); err != nil {
			t.Fatalf("Ship(%d) error: %v", i, err)
		}
	}
	if err := fs.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var decoded audit.LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line %d: %v", count, err)
		}
		if decoded.StatusCode != 200+count {
			t.Errorf("line %d StatusCode = %d, want %d", count, decoded.StatusCode, 200+count)
		}
		count++
	}
	if count != 5 {
		t.Errorf("file has %d lines, want 5", count)
	}
}

func TestNewFileShipper_InvalidPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodir", "audit.log")
	if _, err := audit.NewFileShipper(&audit.FileConfig{Path: path}); err == nil {
		t.Error("expected error for path with nonexistent parent, got nil")
	}
}

func TestFileShipper_Rotate(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.log")

	if err := os.WriteFile(logPath, make([]byte, 1024*1024+1), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs, err := audit.NewFileShipper(&audit.FileConfig{Path: logPath, MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewFileShipper: %v", err)
	}
	defer fs.Close()

	if err := fs.Ship(context.Background(), &audit.LogEntry{Action: "after-rotate"}); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("backup file missing: %v", err)
	}
	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() >= 1024*1024 {
		t.Errorf("active file size = %d, want a fresh file", info.Size())
	}
}

func TestResourceTypeFor(t *testing.T) {
	tests := map[string]string{
		audit.ActionAccountCreate:  "account",
		audit.ActionDelivery:       "access_record",
		audit.ActionRecordsPurge:   "access_record",
		audit.ActionContentPublish: "content",
		audit.ActionAdminRequest:   "http",
	}
	for action, want := range tests {
		if got := audit.ResourceTypeFor(action); got != want {
			t.Errorf("ResourceTypeFor(%q) = %q, want %q", action, got, want)
		}
	}
}
