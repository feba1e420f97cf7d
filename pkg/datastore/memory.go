// Package datastore is an in-memory record store for action steps. Every
// write is announced as a data-change notification on the inbound bus, so
// data_change triggers see the engine's own writes like any other ERP change.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/models"
	"github.com/google/uuid"
)

var ErrRecordNotFound = errors.New("record not found")

type key struct {
	company string
	entity  string
	id      string
}

type Memory struct {
	mu        sync.RWMutex
	records   map[key]map[string]any
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewMemory creates an empty store. A nil publisher disables notifications.
func NewMemory(publisher eventbus.EventPublisher, logger *slog.Logger) *Memory {
	if publisher == nil {
		publisher = eventbus.Discard{}
	}

	return &Memory{
		records:   make(map[key]map[string]any),
		publisher: publisher,
		logger:    logger.With("module", "datastore"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Get(_ context.Context, companyID, entity, id string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[key{companyID, entity, id}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, entity, id)
	}

	return maps.Clone(record), nil
}

// Create stores record under its "id" field, generating one when absent.
func (m *Memory) Create(ctx context.Context, companyID, entity string, record map[string]any) (map[string]any, error) {
	stored := maps.Clone(record)
	if stored == nil {
		stored = map[string]any{}
	}

	id, _ := stored["id"].(string)
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
		stored["id"] = id
	}

	m.mu.Lock()
	k := key{companyID, entity, id}

	if _, exists := m.records[k]; exists {
		m.mu.Unlock()

		return nil, fmt.Errorf("record %s/%s already exists", entity, id)
	}

	m.records[k] = stored
	m.mu.Unlock()

	m.announce(ctx, models.DataChange{
		Entity:    entity,
		Operation: "create",
		RecordID:  id,
		Record:    maps.Clone(stored),
		CompanyID: companyID,
	})

	return maps.Clone(stored), nil
}

// Update merges fields into the record and announces one change per
// modified field.
func (m *Memory) Update(ctx context.Context, companyID, entity, id string, fields map[string]any) (map[string]any, error) {
	m.mu.Lock()
	k := key{companyID, entity, id}

	record, ok := m.records[k]
	if !ok {
		m.mu.Unlock()

		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, entity, id)
	}

	type fieldChange struct {
		field    string
		old, new any
	}

	var changes []fieldChange

	for field, value := range fields {
		if field == "id" {
			continue
		}

		old, had := record[field]
		if had && fmt.Sprint(old) == fmt.Sprint(value) {
			continue
		}

		changes = append(changes, fieldChange{field: field, old: old, new: value})
		record[field] = value
	}

	snapshot := maps.Clone(record)
	m.mu.Unlock()

	for _, c := range changes {
		m.announce(ctx, models.DataChange{
			Entity:    entity,
			Field:     c.field,
			Operation: "update",
			RecordID:  id,
			OldValue:  c.old,
			NewValue:  c.new,
			Record:    snapshot,
			CompanyID: companyID,
		})
	}

	return maps.Clone(snapshot), nil
}

func (m *Memory) Delete(ctx context.Context, companyID, entity, id string) error {
	m.mu.Lock()
	k := key{companyID, entity, id}

	record, ok := m.records[k]
	if !ok {
		m.mu.Unlock()

		return fmt.Errorf("%w: %s/%s", ErrRecordNotFound, entity, id)
	}

	delete(m.records, k)
	m.mu.Unlock()

	m.announce(ctx, models.DataChange{
		Entity:    entity,
		Operation: "delete",
		RecordID:  id,
		Record:    record,
		CompanyID: companyID,
	})

	return nil
}

// announce never fails the write; a lost notification is logged.
func (m *Memory) announce(ctx context.Context, change models.DataChange) {
	event := events.DataChangeReceived{
		BaseEvent: events.NewBase(uuid.Must(uuid.NewV7()).String(), events.DataChangeReceivedEvent, change.CompanyID, m.now()),
		Change:    change,
	}

	if err := m.publisher.Publish(ctx, change.CompanyID, event); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish data change", "entity", change.Entity, "record_id", change.RecordID, "error", err)
	}
}
