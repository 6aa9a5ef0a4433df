// Package models - access_record.go defines the immutable record written for
// every delivery attempt, along with the filter and aggregate types used by
// the admin API.
package models

import "time"

// AccessRecord is one delivery attempt. AccountID is nil when the username did not resolve.
type AccessRecord struct {
	ID         string    `json:"id" db:"id"`
	AccountID  *string   `json:"account_id,omitempty" db:"account_id"`
	Username   string    `json:"username" db:"username"`
	IPAddress  string    `json:"ip_address" db:"ip_address"`
	OriginPage string    `json:"origin_page" db:"origin_page"`
	UserAgent  string    `json:"user_agent" db:"user_agent"`
	Granted    bool      `json:"granted" db:"granted"`
	Message    *string   `json:"message,omitempty" db:"message"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// AccessRecordFilter narrows ListAccessRecords. Zero values mean "no constraint".
type AccessRecordFilter struct {
	From     *time.Time
	To       *time.Time
	Username string
	Granted  *bool
}

// AccessStats is the aggregate view over all access records.
type AccessStats struct {
	TotalAttempts    int64           `json:"total_attempts" db:"total_attempts"`
	RecentAttempts   int64           `json:"recent_attempts" db:"recent_attempts"`
	DistinctAccounts int64           `json:"distinct_accounts" db:"distinct_accounts"`
	GrantedAttempts  int64           `json:"granted_attempts" db:"granted_attempts"`
	DeniedAttempts   int64           `json:"denied_attempts" db:"denied_attempts"`
	TopUsers         []UsernameCount `json:"top_users"`
}

// UsernameCount is one row of the most-active-users ranking.
type UsernameCount struct {
	Username string `json:"username" db:"username"`
	Attempts int64  `json:"attempts" db:"attempts"`
}

// DailyUsage is the attempt count for one calendar day.
type DailyUsage struct {
	Day     time.Time `json:"day" db:"day"`
	Granted int64     `json:"granted" db:"granted"`
	Denied  int64     `json:"denied" db:"denied"`
}
