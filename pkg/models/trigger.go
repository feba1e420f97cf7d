package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TriggerType names how a trigger is fired.
type TriggerType string

const (
	TriggerTypeScheduled  TriggerType = "scheduled"
	TriggerTypeEvent      TriggerType = "event"
	TriggerTypeDataChange TriggerType = "data_change"
	TriggerTypeManual     TriggerType = "manual"
	TriggerTypeWebhook    TriggerType = "webhook"
)

// Trigger instantiates its process definition when its condition holds.
type Trigger struct {
	ID        string           `json:"id"`
	ProcessID string           `json:"process_id" validate:"required"`
	Type      TriggerType      `json:"type"       validate:"required"`
	Condition TriggerCondition `json:"condition"`
	IsActive  bool             `json:"is_active"`
	Audit
}

type triggerJSON struct {
	ID        string          `json:"id"`
	ProcessID string          `json:"process_id"`
	Type      TriggerType     `json:"type"`
	Condition json.RawMessage `json:"condition,omitempty"`
	IsActive  bool            `json:"is_active"`
	Audit
}

func (t Trigger) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage

	if t.Condition != nil {
		var err error

		raw, err = json.Marshal(t.Condition)
		if err != nil {
			return nil, err
		}
	}

	return json.Marshal(triggerJSON{
		ID:        t.ID,
		ProcessID: t.ProcessID,
		Type:      t.Type,
		Condition: raw,
		IsActive:  t.IsActive,
		Audit:     t.Audit,
	})
}

func (t *Trigger) UnmarshalJSON(data []byte) error {
	var aux triggerJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	cond, err := DecodeTriggerCondition(aux.Type, aux.Condition)
	if err != nil {
		return err
	}

	*t = Trigger{
		ID:        aux.ID,
		ProcessID: aux.ProcessID,
		Type:      aux.Type,
		Condition: cond,
		IsActive:  aux.IsActive,
		Audit:     aux.Audit,
	}

	return nil
}

// Validate checks the trigger's condition. It is the configuration check run
// before activation.
func (t *Trigger) Validate() error {
	if t.ProcessID == "" {
		return newValidationError(ErrInvalidCondition, "process_id", "process_id is required")
	}

	if t.Condition == nil {
		if t.Type == TriggerTypeManual {
			return nil
		}

		return newValidationError(ErrInvalidCondition, "condition", "condition is required for %s triggers", t.Type)
	}

	if t.Condition.TriggerType() != t.Type {
		return newValidationError(ErrInvalidCondition, "condition",
			"condition of type %s does not match trigger type %s", t.Condition.TriggerType(), t.Type)
	}

	if err := t.Condition.Validate(); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return err
		}

		return newValidationError(ErrInvalidCondition, "condition", "%s", err)
	}

	return nil
}

// TriggerCondition is the typed condition of one trigger kind.
type TriggerCondition interface {
	TriggerType() TriggerType
	Validate() error
}

var triggerConditionFactories = map[TriggerType]func() TriggerCondition{
	TriggerTypeScheduled:  func() TriggerCondition { return &ScheduledCondition{} },
	TriggerTypeEvent:      func() TriggerCondition { return &EventCondition{} },
	TriggerTypeDataChange: func() TriggerCondition { return &DataChangeCondition{} },
	TriggerTypeManual:     func() TriggerCondition { return &ManualCondition{} },
	TriggerTypeWebhook:    func() TriggerCondition { return &WebhookCondition{} },
}

// DecodeTriggerCondition decodes raw into the condition variant of the given type.
func DecodeTriggerCondition(triggerType TriggerType, raw json.RawMessage) (TriggerCondition, error) {
	factory, ok := triggerConditionFactories[triggerType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown trigger type %q", ErrInvalidCondition, triggerType)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	cond := factory()
	if err := json.Unmarshal(raw, cond); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCondition, triggerType, err)
	}

	return cond, nil
}

// ScheduledCondition fires on a cron pattern evaluated in Timezone.
type ScheduledCondition struct {
	Cron     string         `json:"cron"`
	Timezone string         `json:"timezone,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

func (*ScheduledCondition) TriggerType() TriggerType { return TriggerTypeScheduled }

func (c *ScheduledCondition) Validate() error {
	_, _, err := ParseSchedule(c.Cron, c.Timezone)

	return err
}

// FilterOp is a comparison operator of a payload filter.
type FilterOp string

const (
	FilterOpEq       FilterOp = "eq"
	FilterOpNe       FilterOp = "ne"
	FilterOpGt       FilterOp = "gt"
	FilterOpGte      FilterOp = "gte"
	FilterOpLt       FilterOp = "lt"
	FilterOpLte      FilterOp = "lte"
	FilterOpContains FilterOp = "contains"
	FilterOpExists   FilterOp = "exists"
	FilterOpIn       FilterOp = "in"
)

func (op FilterOp) Valid() bool {
	switch op {
	case FilterOpEq, FilterOpNe, FilterOpGt, FilterOpGte, FilterOpLt, FilterOpLte,
		FilterOpContains, FilterOpExists, FilterOpIn:
		return true
	}

	return false
}

// Filter compares the value at a dotted Field path against Value.
type Filter struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value,omitempty"`
}

func validateFilters(filters []Filter) error {
	for i, f := range filters {
		if f.Field == "" {
			return newValidationError(ErrInvalidCondition, fmt.Sprintf("filters[%d].field", i), "field is required")
		}

		if !f.Op.Valid() {
			return newValidationError(ErrInvalidCondition, fmt.Sprintf("filters[%d].op", i), "unknown operator %q", f.Op)
		}

		if f.Op == FilterOpIn {
			if _, ok := f.Value.([]any); !ok {
				return newValidationError(ErrInvalidCondition, fmt.Sprintf("filters[%d].value", i), "in requires a list value")
			}
		}
	}

	return nil
}

// EventCondition matches external events by name and payload filters.
type EventCondition struct {
	Event   string   `json:"event"`
	Filters []Filter `json:"filters,omitempty"`
}

func (*EventCondition) TriggerType() TriggerType { return TriggerTypeEvent }

func (c *EventCondition) Validate() error {
	if c.Event == "" {
		return newValidationError(ErrInvalidCondition, "condition.event", "event name is required")
	}

	return validateFilters(c.Filters)
}

// DataChange operations.
const (
	DataChangeCreate = "create"
	DataChangeUpdate = "update"
	DataChangeDelete = "delete"
)

// DataChangeCondition matches record changes by entity, optional field and
// operation, and filters over {entity, field, operation, old, new, record}.
type DataChangeCondition struct {
	Entity    string   `json:"entity"`
	Field     string   `json:"field,omitempty"`
	Operation string   `json:"operation,omitempty"`
	Filters   []Filter `json:"filters,omitempty"`
}

func (*DataChangeCondition) TriggerType() TriggerType { return TriggerTypeDataChange }

func (c *DataChangeCondition) Validate() error {
	if c.Entity == "" {
		return newValidationError(ErrInvalidCondition, "condition.entity", "entity is required")
	}

	switch c.Operation {
	case "", DataChangeCreate, DataChangeUpdate, DataChangeDelete:
	default:
		return newValidationError(ErrInvalidCondition, "condition.operation", "unknown operation %q", c.Operation)
	}

	return validateFilters(c.Filters)
}

// ManualCondition lists payload keys a manual start must provide.
type ManualCondition struct {
	RequiredFields []string `json:"required_fields,omitempty"`
}

func (*ManualCondition) TriggerType() TriggerType { return TriggerTypeManual }

func (c *ManualCondition) Validate() error {
	for i, f := range c.RequiredFields {
		if f == "" {
			return newValidationError(ErrInvalidCondition, fmt.Sprintf("condition.required_fields[%d]", i), "field name is empty")
		}
	}

	return nil
}

// WebhookCondition optionally checks an HMAC-SHA256 signature and a JSON schema.
type WebhookCondition struct {
	Secret string         `json:"secret,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
}

func (*WebhookCondition) TriggerType() TriggerType { return TriggerTypeWebhook }

func (c *WebhookCondition) Validate() error {
	return nil
}

// ExternalEvent is an event delivered to event triggers.
type ExternalEvent struct {
	Name       string         `json:"name"        validate:"required"`
	CompanyID  string         `json:"company_id"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// DataChange is a record change notification delivered to data_change triggers.
type DataChange struct {
	Entity    string         `json:"entity"              validate:"required"`
	Field     string         `json:"field,omitempty"`
	Operation string         `json:"operation"           validate:"required,oneof=create update delete"`
	RecordID  string         `json:"record_id,omitempty"`
	OldValue  any            `json:"old_value,omitempty"`
	NewValue  any            `json:"new_value,omitempty"`
	Record    map[string]any `json:"record,omitempty"`
	CompanyID string         `json:"company_id"`
}
