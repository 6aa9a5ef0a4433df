package access

import (
	"context"
	"log/slog"
	"time"

	"github.com/scriptgate/scriptgate/internal/audit"
	"github.com/scriptgate/scriptgate/internal/db/models"
	"github.com/scriptgate/scriptgate/internal/safego"
	"github.com/scriptgate/scriptgate/internal/telemetry"
)

// DefaultOriginPage is stored when the caller did not say where it came from.
const DefaultOriginPage = "unknown"

// Attempt describes one delivery attempt as it will be recorded.
type Attempt struct {
	Username   string
	AccountID  *string
	IPAddress  string
	OriginPage string
	UserAgent  string
	RequestID  string
	Granted    bool
	Message    string
}

// RecorderOptions tunes a Recorder. Zero values fall back to defaults.
type RecorderOptions struct {
	Timeout     time.Duration
	DefaultPage string
}

// Recorder writes access records in the background. Failures never reach the
// caller: they are logged and counted in access_record_failures_total.
type Recorder struct {
	store       RecordStore
	shipper     audit.Shipper
	timeout     time.Duration
	defaultPage string
	group       safego.Group
}

// NewRecorder creates a recorder. shipper may be nil.
func NewRecorder(store RecordStore, shipper audit.Shipper, opts RecorderOptions) *Recorder {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.DefaultPage == "" {
		opts.DefaultPage = DefaultOriginPage
	}
	return &Recorder{
		store:       store,
		shipper:     shipper,
		timeout:     opts.Timeout,
		defaultPage: opts.DefaultPage,
	}
}

// Record queues the attempt for persistence and returns immediately.
func (r *Recorder) Record(attempt Attempt) {
	r.group.Go("access-recorder", func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.persist(ctx, attempt)
	})
}

// Wait blocks until queued records have been written or ctx expires.
func (r *Recorder) Wait(ctx context.Context) error {
	return r.group.Wait(ctx)
}

func (r *Recorder) persist(ctx context.Context, attempt Attempt) {
	rec := &models.AccessRecord{
		AccountID:  attempt.AccountID,
		Username:   attempt.Username,
		IPAddress:  attempt.IPAddress,
		OriginPage: attempt.OriginPage,
		UserAgent:  attempt.UserAgent,
		Granted:    attempt.Granted,
	}
	if rec.OriginPage == "" {
		rec.OriginPage = r.defaultPage
	}
	if attempt.Message != "" {
		msg := attempt.Message
		rec.Message = &msg
	}

	if err := r.store.CreateAccessRecord(ctx, rec); err != nil {
		telemetry.AccessRecordFailuresTotal.Inc()
		slog.Error("failed to persist access record",
			"username", attempt.Username,
			"granted", attempt.Granted,
			"request_id", attempt.RequestID,
			"error", err)
	}

	if r.shipper == nil {
		return
	}

	outcome := audit.OutcomeDenied
	if attempt.Granted {
		outcome = audit.OutcomeGranted
	}
	entry := &audit.LogEntry{
		Timestamp:  time.Now().UTC(),
		Action:     audit.ActionDelivery,
		Outcome:    outcome,
		Username:   attempt.Username,
		ResourceID: rec.ID,
		IPAddress:  attempt.IPAddress,
		RequestID:  attempt.RequestID,
		Message:    attempt.Message,
		Metadata:   map[string]interface{}{"origin_page": rec.OriginPage},
	}
	if attempt.AccountID != nil {
		entry.AccountID = *attempt.AccountID
	}
	// MultiShipper logs per-destination failures itself.
	_ = r.shipper.Ship(ctx, entry)
}
