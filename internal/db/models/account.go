// Package models - account.go defines the Account model: a credential holder
// with a consumable use counter.
package models

import "time"

// Account is a user allowed to fetch the protected script.
// Admin accounts are exempt from the use counter and cannot be disabled or deleted.
type Account struct {
	ID            string    `json:"id" db:"id"`
	Username      string    `json:"username" db:"username"`
	SecretHash    string    `json:"-" db:"secret_hash"`
	RemainingUses int       `json:"remaining_uses" db:"remaining_uses"`
	TotalUses     int       `json:"total_uses" db:"total_uses"`
	IsAdmin       bool      `json:"is_admin" db:"is_admin"`
	Active        bool      `json:"active" db:"active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// HasCredits reports whether a delivery may proceed without consulting the counter
// (admin) or with at least one use left.
func (a *Account) HasCredits() bool {
	return a.IsAdmin || a.RemainingUses > 0
}

// AccountUpdate carries the mutable fields of an account. Nil fields are left unchanged.
type AccountUpdate struct {
	SecretHash    *string
	RemainingUses *int
	Active        *bool
	IsAdmin       *bool
}
