package model

import "time"

type Member struct {
	ID            int64     `json:"id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	PhoneNumber   string    `json:"phone_number"` // normalized 254XXXXXXXXX
	IsGuest       bool      `json:"is_guest"`
	IsActive      bool      `json:"is_active"`
	ImportBatchID *string   `json:"import_batch_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (m *Member) FullName() string {
	if m.LastName == "" {
		return m.FirstName
	}
	return m.FirstName + " " + m.LastName
}
