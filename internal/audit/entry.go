// Package audit ships structured audit events (delivery attempts and admin
// mutations) to external destinations such as a file or a webhook. Audit
// events are separate from application logs: they are consumed by whoever
// owns the credit ledger, not by on-call engineers.
package audit

import "time"

// Actions emitted by scriptgate.
const (
	ActionDelivery        = "script.delivery"
	ActionAccountCreate   = "account.create"
	ActionAccountUpdate   = "account.update"
	ActionAccountDelete   = "account.delete"
	ActionAccountTopUp    = "account.topup"
	ActionRecordsPurge    = "access_records.purge"
	ActionContentPublish  = "content.publish"
	ActionAdminLogin      = "admin.login"
	ActionAdminBootstrap  = "admin.bootstrap"
	ActionAdminRequest    = "admin.request"
	OutcomeGranted        = "granted"
	OutcomeDenied         = "denied"
	OutcomeSucceeded      = "succeeded"
	OutcomeFailed         = "failed"
	resourceTypeAccount   = "account"
	resourceTypeRecord    = "access_record"
	resourceTypeContent   = "content"
	resourceTypeAdminHTTP = "http"
)

// LogEntry represents a structured audit log entry
type LogEntry struct {
	Timestamp    time.Time              `json:"timestamp"`
	Action       string                 `json:"action"`
	Outcome      string                 `json:"outcome,omitempty"`
	Actor        string                 `json:"actor,omitempty"`
	Username     string                 `json:"username,omitempty"`
	AccountID    string                 `json:"account_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	StatusCode   int                    `json:"status_code,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ResourceTypeFor returns the resource type recorded for an action.
func ResourceTypeFor(action string) string {
	switch action {
	case ActionAccountCreate, ActionAccountUpdate, ActionAccountDelete, ActionAccountTopUp, ActionAdminBootstrap:
		return resourceTypeAccount
	case ActionDelivery, ActionRecordsPurge:
		return resourceTypeRecord
	case ActionContentPublish:
		return resourceTypeContent
	default:
		return resourceTypeAdminHTTP
	}
}
