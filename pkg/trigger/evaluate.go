// Package trigger decides whether an incoming candidate (a scheduled tick, an
// external event, a data change, a manual start or a webhook call) should
// instantiate a trigger's process definition, and starts it when it should.
package trigger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/procflow/pkg/expression"
	"github.com/dukex/procflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrInvalidPayload marks a caller-supplied payload that does not fit the
	// trigger. It is never a configuration error.
	ErrInvalidPayload   = errors.New("invalid trigger payload")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrWrongTriggerType = errors.New("trigger type does not accept this candidate")
)

// SignatureHeader carries the webhook HMAC-SHA256 signature, formatted as
// "sha256=<hex>".
const SignatureHeader = "X-Signature-256"

// Candidate is what a trigger is evaluated against. Which fields matter
// depends on the trigger type.
type Candidate struct {
	// At is the schedule boundary a scheduled trigger fires for.
	At time.Time
	// Payload is the scheduled job payload or the manual start payload.
	Payload map[string]any
	Event   *models.ExternalEvent
	Change  *models.DataChange
	// Body and Signature are the raw webhook request body and its signature.
	Body      []byte
	Signature string
	Actor     string
}

// InstantiationRequest is a positive evaluation: start ProcessID with Context.
type InstantiationRequest struct {
	ProcessID string
	TriggerID string
	CompanyID string
	Context   map[string]any
	Actor     string
}

// Evaluate returns the instantiation request for t and c, or nil when the
// trigger is inactive or its condition does not match. Errors are returned
// only for malformed manual and webhook payloads.
func Evaluate(t *models.Trigger, c Candidate) (*InstantiationRequest, error) {
	if t == nil || !t.IsActive {
		return nil, nil
	}

	var (
		ctxData map[string]any
		err     error
	)

	switch t.Type {
	case models.TriggerTypeScheduled:
		ctxData = evaluateScheduled(t, c)
	case models.TriggerTypeEvent:
		ctxData = evaluateEvent(t, c)
	case models.TriggerTypeDataChange:
		ctxData = evaluateDataChange(t, c)
	case models.TriggerTypeManual:
		ctxData, err = evaluateManual(t, c)
	case models.TriggerTypeWebhook:
		ctxData, err = evaluateWebhook(t, c)
	default:
		return nil, fmt.Errorf("%w: unknown trigger type %q", models.ErrInvalidCondition, t.Type)
	}

	if err != nil || ctxData == nil {
		return nil, err
	}

	return &InstantiationRequest{
		ProcessID: t.ProcessID,
		TriggerID: t.ID,
		CompanyID: t.CompanyID,
		Context:   ctxData,
		Actor:     c.Actor,
	}, nil
}

func evaluateScheduled(t *models.Trigger, c Candidate) map[string]any {
	data := map[string]any{}

	if cond, ok := t.Condition.(*models.ScheduledCondition); ok {
		for k, v := range cond.Payload {
			data[k] = v
		}
	}

	for k, v := range c.Payload {
		data[k] = v
	}

	at := c.At
	if at.IsZero() {
		at = time.Now()
	}

	data["scheduled_at"] = at.UTC().Format(time.RFC3339)

	return data
}

func evaluateEvent(t *models.Trigger, c Candidate) map[string]any {
	cond, ok := t.Condition.(*models.EventCondition)
	if !ok || c.Event == nil || c.Event.Name != cond.Event {
		return nil
	}

	if t.CompanyID != "" && c.Event.CompanyID != "" && t.CompanyID != c.Event.CompanyID {
		return nil
	}

	payload := c.Event.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	if !Matches(cond.Filters, payload) {
		return nil
	}

	data := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		data[k] = v
	}

	data["event"] = map[string]any{
		"name":        c.Event.Name,
		"occurred_at": c.Event.OccurredAt.UTC().Format(time.RFC3339),
		"payload":     payload,
	}

	return data
}

// ChangeData is the view of a data change that data_change filters and the
// started instance see.
func ChangeData(change *models.DataChange) map[string]any {
	return map[string]any{
		"entity":    change.Entity,
		"field":     change.Field,
		"operation": change.Operation,
		"record_id": change.RecordID,
		"old":       change.OldValue,
		"new":       change.NewValue,
		"record":    change.Record,
	}
}

func evaluateDataChange(t *models.Trigger, c Candidate) map[string]any {
	cond, ok := t.Condition.(*models.DataChangeCondition)
	if !ok || c.Change == nil || c.Change.Entity != cond.Entity {
		return nil
	}

	if t.CompanyID != "" && c.Change.CompanyID != "" && t.CompanyID != c.Change.CompanyID {
		return nil
	}

	if cond.Operation != "" && cond.Operation != c.Change.Operation {
		return nil
	}

	if cond.Field != "" && cond.Field != c.Change.Field {
		// Creates and deletes carry the whole record instead of one field.
		if _, inRecord := c.Change.Record[cond.Field]; c.Change.Field != "" || !inRecord {
			return nil
		}
	}

	data := ChangeData(c.Change)
	if !Matches(cond.Filters, data) {
		return nil
	}

	return data
}

func evaluateManual(t *models.Trigger, c Candidate) (map[string]any, error) {
	data := make(map[string]any, len(c.Payload))
	for k, v := range c.Payload {
		data[k] = v
	}

	cond, ok := t.Condition.(*models.ManualCondition)
	if !ok {
		return data, nil
	}

	var missing []string

	for _, field := range cond.RequiredFields {
		if expression.LookupPath(data, field) == nil {
			missing = append(missing, field)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields: %s", ErrInvalidPayload, strings.Join(missing, ", "))
	}

	return data, nil
}

func evaluateWebhook(t *models.Trigger, c Candidate) (map[string]any, error) {
	cond, _ := t.Condition.(*models.WebhookCondition)

	if cond != nil && cond.Secret != "" && !VerifySignature(cond.Secret, c.Body, c.Signature) {
		return nil, ErrInvalidSignature
	}

	data := map[string]any{}

	if len(c.Body) > 0 {
		if err := json.Unmarshal(c.Body, &data); err != nil {
			return nil, fmt.Errorf("%w: body must be a JSON object: %w", ErrInvalidPayload, err)
		}
	}

	if cond != nil && len(cond.Schema) > 0 {
		if err := validateSchema(cond.Schema, data); err != nil {
			return nil, err
		}
	}

	return data, nil
}

func validateSchema(schema, data map[string]any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if !result.Valid() {
		var reasons []string
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(reasons, "; "))
	}

	return nil
}

// Matches reports whether data satisfies every filter. Fields are dotted
// paths into data.
func Matches(filters []models.Filter, data map[string]any) bool {
	for _, f := range filters {
		ok, err := expression.Compare(string(f.Op), expression.LookupPath(data, f.Field), f.Value)
		if err != nil || !ok {
			return false
		}
	}

	return true
}

// Sign returns the signature of body under secret in SignatureHeader format.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body in constant time. The
// "sha256=" prefix is optional.
func VerifySignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hmac.Equal(got, mac.Sum(nil))
}

// ValidateCondition is the configuration check run before a trigger is
// activated: cron and timezone, filter operators, and the webhook schema.
func ValidateCondition(t *models.Trigger) error {
	if err := t.Validate(); err != nil {
		return err
	}

	cond, ok := t.Condition.(*models.WebhookCondition)
	if !ok || len(cond.Schema) == 0 {
		return nil
	}

	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(cond.Schema)); err != nil {
		return &models.ValidationError{Field: "condition.schema", Reason: err.Error(), Err: models.ErrInvalidCondition}
	}

	return nil
}
