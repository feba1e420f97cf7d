package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// StepConfig is the typed configuration of one step kind.
type StepConfig interface {
	StepType() StepType
	Validate() error
}

var stepConfigFactories = map[StepType]func() StepConfig{
	StepTypeAction:       func() StepConfig { return &ActionConfig{} },
	StepTypeDecision:     func() StepConfig { return &DecisionConfig{} },
	StepTypeDelay:        func() StepConfig { return &DelayConfig{} },
	StepTypeNotification: func() StepConfig { return &NotificationConfig{} },
	StepTypeApproval:     func() StepConfig { return &ApprovalConfig{} },
	StepTypeSubprocess:   func() StepConfig { return &SubprocessConfig{} },
	StepTypeAPICall:      func() StepConfig { return &APICallConfig{} },
	StepTypeDocument:     func() StepConfig { return &DocumentConfig{} },
}

// StepTypes lists every known step type.
func StepTypes() []StepType {
	return []StepType{
		StepTypeAction, StepTypeDecision, StepTypeDelay, StepTypeNotification,
		StepTypeApproval, StepTypeSubprocess, StepTypeAPICall, StepTypeDocument,
	}
}

// DecodeStepConfig decodes raw into the config variant of the given step type.
// An empty payload yields a nil config.
func DecodeStepConfig(stepType StepType, raw json.RawMessage) (StepConfig, error) {
	factory, ok := stepConfigFactories[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown step type %q", ErrInvalidStepConfig, stepType)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	cfg := factory()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidStepConfig, stepType, err)
	}

	return cfg, nil
}

func marshalStepConfig(cfg StepConfig) (json.RawMessage, error) {
	if cfg == nil {
		return nil, nil
	}

	return json.Marshal(cfg)
}

// CloneStepConfig returns a deep copy of cfg.
func CloneStepConfig(cfg StepConfig) (StepConfig, error) {
	if cfg == nil {
		return nil, nil
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	return DecodeStepConfig(cfg.StepType(), raw)
}

// ActionConfig invokes a named operation with templated parameters.
type ActionConfig struct {
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
}

func (*ActionConfig) StepType() StepType { return StepTypeAction }

func (c *ActionConfig) Validate() error {
	if c.Operation == "" {
		return errors.New("operation is required")
	}

	return nil
}

// DecisionBranch routes to Next when the When predicate holds.
type DecisionBranch struct {
	When string `json:"when"`
	Next string `json:"next"`
}

// DecisionConfig selects the next step from ordered predicates. Default is
// mandatory and may be EndStep.
type DecisionConfig struct {
	Branches []DecisionBranch `json:"branches"`
	Default  string           `json:"default"`
}

func (*DecisionConfig) StepType() StepType { return StepTypeDecision }

func (c *DecisionConfig) Validate() error {
	if c.Default == "" {
		return fmt.Errorf("default is required, use %q to terminate", EndStep)
	}

	for i, b := range c.Branches {
		if strings.TrimSpace(b.When) == "" {
			return fmt.Errorf("branch %d: when is required", i)
		}

		if b.Next == "" {
			return fmt.Errorf("branch %d: next is required", i)
		}
	}

	return nil
}

// DelayConfig parks the instance for Duration, or until the rendered Until
// timestamp (RFC 3339).
type DelayConfig struct {
	Duration Duration `json:"duration,omitempty"`
	Until    string   `json:"until,omitempty"`
}

func (*DelayConfig) StepType() StepType { return StepTypeDelay }

func (c *DelayConfig) Validate() error {
	if c.Duration <= 0 && c.Until == "" {
		return errors.New("duration or until is required")
	}

	if c.Duration > 0 && c.Until != "" {
		return errors.New("duration and until are mutually exclusive")
	}

	return nil
}

// NotificationConfig sends a templated message through a channel.
type NotificationConfig struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

func (*NotificationConfig) StepType() StepType { return StepTypeNotification }

func (c *NotificationConfig) Validate() error {
	if c.To == "" {
		return errors.New("to is required")
	}

	if c.Body == "" {
		return errors.New("body is required")
	}

	return nil
}

const ApprovalOnRejectFail = "fail"

// ApprovalConfig requests a human decision from Approver (templated).
// OnReject is either "fail" or the id of the step to continue with.
type ApprovalConfig struct {
	Approver         string   `json:"approver"`
	OnReject         string   `json:"on_reject,omitempty"`
	ReminderInterval Duration `json:"reminder_interval,omitempty"`
	Expiry           Duration `json:"expiry,omitempty"`
}

func (*ApprovalConfig) StepType() StepType { return StepTypeApproval }

func (c *ApprovalConfig) Validate() error {
	if c.Approver == "" {
		return errors.New("approver is required")
	}

	if c.ReminderInterval < 0 || c.Expiry < 0 {
		return errors.New("reminder_interval and expiry must not be negative")
	}

	return nil
}

// RejectsToFailure reports whether a rejection fails the instance.
func (c *ApprovalConfig) RejectsToFailure() bool {
	return c.OnReject == "" || c.OnReject == ApprovalOnRejectFail
}

const (
	ChildFailureFail     = "fail"
	ChildFailureContinue = "continue"
)

// SubprocessConfig starts a child instance of ProcessID. When Wait is set the
// parent suspends until the child terminates and OnChildFailure decides what
// a failed or cancelled child means for the parent.
type SubprocessConfig struct {
	ProcessID      string         `json:"process_id"`
	Wait           bool           `json:"wait"`
	OnChildFailure string         `json:"on_child_failure,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
}

func (*SubprocessConfig) StepType() StepType { return StepTypeSubprocess }

func (c *SubprocessConfig) Validate() error {
	if c.ProcessID == "" {
		return errors.New("process_id is required")
	}

	if !c.Wait {
		return nil
	}

	switch c.OnChildFailure {
	case ChildFailureFail, ChildFailureContinue:
		return nil
	case "":
		return errors.New("on_child_failure is required when wait is set")
	default:
		return fmt.Errorf("unknown on_child_failure %q", c.OnChildFailure)
	}
}

// APICallConfig calls an endpoint of a registered API connection.
type APICallConfig struct {
	ConnectionID string            `json:"connection_id"`
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
	Timeout      Duration          `json:"timeout,omitempty"`
}

func (*APICallConfig) StepType() StepType { return StepTypeAPICall }

func (c *APICallConfig) Validate() error {
	if c.ConnectionID == "" {
		return errors.New("connection_id is required")
	}

	switch strings.ToUpper(c.Method) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("unsupported method %q", c.Method)
	}

	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}

	return nil
}

// DocumentConfig renders Template against the instance context.
type DocumentConfig struct {
	Template string `json:"template"`
	Format   string `json:"format,omitempty"`
	Name     string `json:"name"`
}

func (*DocumentConfig) StepType() StepType { return StepTypeDocument }

func (c *DocumentConfig) Validate() error {
	if c.Template == "" {
		return errors.New("template is required")
	}

	if c.Name == "" {
		return errors.New("name is required")
	}

	return nil
}
