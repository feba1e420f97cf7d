package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// StepType names a step handler.
type StepType string

const (
	StepTypeAction       StepType = "action"
	StepTypeDecision     StepType = "decision"
	StepTypeDelay        StepType = "delay"
	StepTypeNotification StepType = "notification"
	StepTypeApproval     StepType = "approval"
	StepTypeSubprocess   StepType = "subprocess"
	StepTypeAPICall      StepType = "api_call"
	StepTypeDocument     StepType = "document_generation"
)

// EndStep is the reserved next-step id that terminates the process.
const EndStep = "end"

// Step is one node of a process definition's step graph.
type Step struct {
	ID         string       `json:"id"                    validate:"required"`
	Name       string       `json:"name"`
	Type       StepType     `json:"type"                  validate:"required"`
	Config     StepConfig   `json:"config"`
	Next       string       `json:"next,omitempty"`
	When       string       `json:"when,omitempty"`
	Retry      *RetryPolicy `json:"retry,omitempty"`
	TemplateID string       `json:"template_id,omitempty"`
}

type stepJSON struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Type       StepType        `json:"type"`
	Config     json.RawMessage `json:"config,omitempty"`
	Next       string          `json:"next,omitempty"`
	When       string          `json:"when,omitempty"`
	Retry      *RetryPolicy    `json:"retry,omitempty"`
	TemplateID string          `json:"template_id,omitempty"`
}

func (s Step) MarshalJSON() ([]byte, error) {
	raw, err := marshalStepConfig(s.Config)
	if err != nil {
		return nil, err
	}

	return json.Marshal(stepJSON{
		ID:         s.ID,
		Name:       s.Name,
		Type:       s.Type,
		Config:     raw,
		Next:       s.Next,
		When:       s.When,
		Retry:      s.Retry,
		TemplateID: s.TemplateID,
	})
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var aux stepJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	cfg, err := DecodeStepConfig(aux.Type, aux.Config)
	if err != nil {
		return fmt.Errorf("step %q: %w", aux.ID, err)
	}

	*s = Step{
		ID:         aux.ID,
		Name:       aux.Name,
		Type:       aux.Type,
		Config:     cfg,
		Next:       aux.Next,
		When:       aux.When,
		Retry:      aux.Retry,
		TemplateID: aux.TemplateID,
	}

	return nil
}

// Validate checks the step's own shape. References to other steps are
// checked by ProcessDefinition.Validate.
func (s Step) Validate() error {
	if s.ID == "" {
		return newValidationError(ErrInvalidDefinition, "steps.id", "step id is required")
	}

	if s.ID == EndStep {
		return newValidationError(ErrInvalidDefinition, "steps.id", "%q is a reserved step id", EndStep)
	}

	if s.Config == nil {
		return newValidationError(ErrInvalidStepConfig, "steps."+s.ID+".config", "config is required for %s steps", s.Type)
	}

	if s.Config.StepType() != s.Type {
		return newValidationError(ErrInvalidStepConfig, "steps."+s.ID+".config",
			"config of type %s does not match step type %s", s.Config.StepType(), s.Type)
	}

	if err := s.Config.Validate(); err != nil {
		return newValidationError(ErrInvalidStepConfig, "steps."+s.ID+".config", "%s", err)
	}

	if s.Retry != nil {
		if err := s.Retry.Validate(); err != nil {
			return newValidationError(ErrInvalidStepConfig, "steps."+s.ID+".retry", "%s", err)
		}
	}

	return nil
}

// References returns every step id this step may transfer control to.
func (s Step) References() []string {
	refs := make([]string, 0, 2)
	if s.Next != "" {
		refs = append(refs, s.Next)
	}

	switch cfg := s.Config.(type) {
	case *DecisionConfig:
		for _, b := range cfg.Branches {
			refs = append(refs, b.Next)
		}

		refs = append(refs, cfg.Default)
	case *ApprovalConfig:
		if cfg.OnReject != "" && cfg.OnReject != ApprovalOnRejectFail {
			refs = append(refs, cfg.OnReject)
		}
	}

	return refs
}

// MaxAttempts returns the retry budget of the step, at least one.
func (s Step) MaxAttempts() int {
	if s.Retry == nil || s.Retry.MaxAttempts < 1 {
		return 1
	}

	return s.Retry.MaxAttempts
}

// RetryPolicy bounds how often a failing step is re-attempted and how long
// the instance waits between attempts.
type RetryPolicy struct {
	MaxAttempts    int      `json:"max_attempts"              validate:"min=1"`
	InitialBackoff Duration `json:"initial_backoff,omitempty"`
	Multiplier     float64  `json:"multiplier,omitempty"`
	MaxBackoff     Duration `json:"max_backoff,omitempty"`
}

func (r RetryPolicy) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}

	if r.InitialBackoff < 0 || r.MaxBackoff < 0 {
		return fmt.Errorf("backoff must not be negative")
	}

	if r.Multiplier != 0 && r.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1")
	}

	return nil
}

// Backoff returns the wait before the given attempt (2 is the first retry).
func (r RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 || r.InitialBackoff <= 0 {
		return 0
	}

	multiplier := r.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	limit := time.Duration(math.MaxInt64)
	if r.MaxBackoff > 0 {
		limit = r.MaxBackoff.Std()
	}

	delay := float64(r.InitialBackoff)
	for i := 2; i < attempt; i++ {
		delay *= multiplier
		if delay >= float64(limit) {
			return limit
		}
	}

	if delay >= float64(limit) {
		return limit
	}

	return time.Duration(delay)
}
