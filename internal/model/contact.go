// internal/model/contact.go
package model

import (
	"strings"
	"time"
)

type ContactPhone struct {
	Number    string `db:"number" json:"number"`
	Type      string `db:"type" json:"type"` // mobile, landline, ...
	IsPrimary bool   `db:"is_primary" json:"is_primary"`
}

type Contact struct {
	ID          string         `db:"id" json:"id"`
	WorkspaceID string         `db:"workspace_id" json:"workspace_id"`
	FirstName   string         `db:"first_name" json:"first_name"`
	LastName    string         `db:"last_name" json:"last_name"`
	Email       string         `db:"email" json:"email,omitempty"`
	Phones      []ContactPhone `json:"phones"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// PrimaryPhone returns the primary number, falling back to the first one on file.
func (c *Contact) PrimaryPhone() string {
	for _, p := range c.Phones {
		if p.IsPrimary {
			return p.Number
		}
	}
	if len(c.Phones) > 0 {
		return c.Phones[0].Number
	}
	return ""
}

func (c *Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}
