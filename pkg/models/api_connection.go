package models

import "net/url"

// APIConnection is a registered external endpoint used by api_call steps.
type APIConnection struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"              validate:"required"`
	BaseURL  string            `json:"base_url"          validate:"required,url"`
	Headers  map[string]string `json:"headers,omitempty"`
	Timeout  Duration          `json:"timeout,omitempty"`
	IsActive bool              `json:"is_active"`
	Audit
}

func (c *APIConnection) Validate() error {
	if c.Name == "" {
		return newValidationError(ErrInvalidStepConfig, "name", "name is required")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return newValidationError(ErrInvalidStepConfig, "base_url", "%q is not an absolute URL", c.BaseURL)
	}

	return nil
}
