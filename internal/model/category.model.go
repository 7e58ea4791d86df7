package model

import "time"

// ContributionCategory is a bucket contributions are recorded against, for
// example Tithe, Offering or Building Fund. The code doubles as the M-Pesa
// account reference.
type ContributionCategory struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}
