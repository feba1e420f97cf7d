package models

import (
	"encoding/json"
	"fmt"
)

// StepTemplate is a reusable, versionless step blueprint. An empty CompanyID
// makes it global. Templates are copied by value into definitions.
type StepTemplate struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Type        StepType     `json:"type"`
	Config      StepConfig   `json:"config"`
	Retry       *RetryPolicy `json:"retry,omitempty"`
	Audit
}

type stepTemplateJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        StepType        `json:"type"`
	Config      json.RawMessage `json:"config,omitempty"`
	Retry       *RetryPolicy    `json:"retry,omitempty"`
	Audit
}

func (t StepTemplate) MarshalJSON() ([]byte, error) {
	raw, err := marshalStepConfig(t.Config)
	if err != nil {
		return nil, err
	}

	return json.Marshal(stepTemplateJSON{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Type:        t.Type,
		Config:      raw,
		Retry:       t.Retry,
		Audit:       t.Audit,
	})
}

func (t *StepTemplate) UnmarshalJSON(data []byte) error {
	var aux stepTemplateJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	cfg, err := DecodeStepConfig(aux.Type, aux.Config)
	if err != nil {
		return fmt.Errorf("step template %q: %w", aux.ID, err)
	}

	*t = StepTemplate{
		ID:          aux.ID,
		Name:        aux.Name,
		Description: aux.Description,
		Type:        aux.Type,
		Config:      cfg,
		Retry:       aux.Retry,
		Audit:       aux.Audit,
	}

	return nil
}

func (t *StepTemplate) Validate() error {
	if t.Name == "" {
		return newValidationError(ErrInvalidStepConfig, "name", "name is required")
	}

	step := Step{ID: "template", Type: t.Type, Config: t.Config, Retry: t.Retry}
	if err := step.Validate(); err != nil {
		return err
	}

	return nil
}

// Apply copies the template into step, keeping the step's id, name and
// graph references.
func (t *StepTemplate) Apply(step Step) (Step, error) {
	cfg, err := CloneStepConfig(t.Config)
	if err != nil {
		return Step{}, fmt.Errorf("failed to copy template %q: %w", t.ID, err)
	}

	step.Type = t.Type
	step.Config = cfg
	step.TemplateID = t.ID

	if step.Name == "" {
		step.Name = t.Name
	}

	if step.Retry == nil && t.Retry != nil {
		retry := *t.Retry
		step.Retry = &retry
	}

	return step, nil
}
