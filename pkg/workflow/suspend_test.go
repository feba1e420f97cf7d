package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence/file"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuspend_RejectedTransitionLeavesInstanceUntouched(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	opts := Options{Logger: testutil.Logger(), Clock: func() time.Time { return testutil.Epoch.Add(time.Hour) }}
	m := NewManager(store, NewExecutor(store, registry.NewRegistry(testutil.Logger()), opts), opts)

	process := testutil.CreateTestProcess([]models.Step{testutil.ApprovalStep("review", "u-1")})
	inst := testutil.CreateTestInstance(process, func(i *models.ProcessInstance) {
		i.Status = models.InstanceStatusCompleted
		i.UpdatedAt = testutil.Epoch
	})

	err := m.suspend(context.Background(), inst, &models.Suspension{
		Kind:       models.SuspensionApproval,
		StepID:     "review",
		ApprovalID: "a-1",
	})
	require.ErrorIs(t, err, ErrInvalidTransition)

	assert.Nil(t, inst.Suspension)
	assert.Equal(t, models.InstanceStatusCompleted, inst.Status)
	assert.Equal(t, testutil.Epoch, inst.UpdatedAt)
}
