package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scriptgate/scriptgate/internal/config"
)

// Shipper defines the interface for audit log shipping
type Shipper interface {
	// Ship sends an audit log entry to the destination
	Ship(ctx context.Context, entry *LogEntry) error
	// Close cleans up any resources
	Close() error
}

// ShipperConfig holds configuration for one audit log shipper
type ShipperConfig struct {
	Enabled bool
	// Type is the shipper type (webhook, file)
	Type    string
	Webhook *WebhookConfig
	File    *FileConfig
}

// WebhookConfig holds webhook shipper configuration
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	// BatchSize is how many entries to batch before sending (0 = no batching)
	BatchSize     int
	FlushInterval time.Duration
}

// FileConfig holds file shipper configuration
type FileConfig struct {
	Path string
	// MaxSizeMB is the maximum file size before rotation (0 = never rotate)
	MaxSizeMB  int
	MaxBackups int
}

// ConfigsFromSettings converts the audit section of the application config.
func ConfigsFromSettings(cfg config.AuditConfig) []ShipperConfig {
	if !cfg.Enabled {
		return nil
	}
	out := make([]ShipperConfig, 0, len(cfg.Shippers))
	for _, s := range cfg.Shippers {
		sc := ShipperConfig{Enabled: s.Enabled, Type: s.Type}
		if s.Webhook != nil {
			sc.Webhook = &WebhookConfig{
				URL:           s.Webhook.URL,
				Headers:       s.Webhook.Headers,
				Timeout:       time.Duration(s.Webhook.TimeoutSecs) * time.Second,
				BatchSize:     s.Webhook.BatchSize,
				FlushInterval: time.Duration(s.Webhook.FlushInterval) * time.Second,
			}
		}
		if s.File != nil {
			sc.File = &FileConfig{
				Path:       s.File.Path,
				MaxSizeMB:  s.File.MaxSizeMB,
				MaxBackups: s.File.MaxBackups,
			}
		}
		out = append(out, sc)
	}
	return out
}

// MultiShipper ships to multiple destinations. With no destinations it is a no-op.
type MultiShipper struct {
	shippers []Shipper
	mu       sync.RWMutex
}

// NewMultiShipper creates a new multi-shipper from configs
func NewMultiShipper(configs []ShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{
		shippers: make([]Shipper, 0),
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}

		if err != nil {
			ms.Close()
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}

		ms.shippers = append(ms.shippers, shipper)
	}

	return ms, nil
}

// Len returns the number of active destinations.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends an entry to all configured shippers. Every shipper is attempted;
// the last error is returned.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.ResourceType == "" {
		entry.ResourceType = ResourceTypeFor(entry.Action)
	}

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, entry); err != nil {
			lastErr = err
			slog.Warn("audit shipper error", "action", entry.Action, "error", err)
		}
	}
	return lastErr
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
