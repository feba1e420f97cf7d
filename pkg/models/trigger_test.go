package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigger_JSONSelectsConditionByType(t *testing.T) {
	raw := `{
		"id": "t-1",
		"process_id": "p-1",
		"type": "event",
		"condition": {"event": "invoice.paid", "filters": [{"field": "amount", "op": "gte", "value": 100}]},
		"is_active": true,
		"company_id": "acme"
	}`

	var trig Trigger
	require.NoError(t, json.Unmarshal([]byte(raw), &trig))

	cond, ok := trig.Condition.(*EventCondition)
	require.True(t, ok)
	assert.Equal(t, "invoice.paid", cond.Event)
	assert.Equal(t, FilterOpGte, cond.Filters[0].Op)
	assert.Equal(t, "acme", trig.CompanyID)

	out, err := json.Marshal(trig)
	require.NoError(t, err)

	var again Trigger
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, trig, again)
}

func TestTrigger_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		trigger Trigger
		wantErr error
	}{
		{
			name:    "scheduled with valid cron",
			trigger: Trigger{ProcessID: "p", Type: TriggerTypeScheduled, Condition: &ScheduledCondition{Cron: "0 0 * * *"}},
		},
		{
			name:    "scheduled with invalid cron",
			trigger: Trigger{ProcessID: "p", Type: TriggerTypeScheduled, Condition: &ScheduledCondition{Cron: "61 * * * *"}},
			wantErr: ErrInvalidCron,
		},
		{
			name:    "scheduled without condition",
			trigger: Trigger{ProcessID: "p", Type: TriggerTypeScheduled},
			wantErr: ErrInvalidCondition,
		},
		{
			name:    "event with unknown operator",
			trigger: Trigger{ProcessID: "p", Type: TriggerTypeEvent, Condition: &EventCondition{Event: "x", Filters: []Filter{{Field: "a", Op: "like"}}}},
			wantErr: ErrInvalidCondition,
		},
		{
			name:    "in filter needs a list",
			trigger: Trigger{ProcessID: "p", Type: TriggerTypeEvent, Condition: &EventCondition{Event: "x", Filters: []Filter{{Field: "a", Op: FilterOpIn, Value: "b"}}}},
			wantErr: ErrInvalidCondition,
		},
		{
			name:    "data change with unknown operation",
			trigger: Trigger{ProcessID: "p", Type: TriggerTypeDataChange, Condition: &DataChangeCondition{Entity: "invoice", Operation: "upsert"}},
			wantErr: ErrInvalidCondition,
		},
		{
			name:    "condition type mismatch",
			trigger: Trigger{ProcessID: "p", Type: TriggerTypeWebhook, Condition: &ManualCondition{}},
			wantErr: ErrInvalidCondition,
		},
		{
			name:    "manual without condition",
			trigger: Trigger{ProcessID: "p", Type: TriggerTypeManual},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.trigger.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}
