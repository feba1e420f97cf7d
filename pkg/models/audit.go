package models

import "time"

// Audit carries the tenant scope and actor bookkeeping shared by every entity.
type Audit struct {
	CompanyID string    `json:"company_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// Touch stamps the audit fields for a write performed by actor at now.
// Creation fields are only set the first time.
func (a *Audit) Touch(actor string, now time.Time) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
		a.CreatedBy = actor
	}

	a.UpdatedAt = now
	a.UpdatedBy = actor
}
