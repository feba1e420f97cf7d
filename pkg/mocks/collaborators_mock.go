package mocks

import (
	"context"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockDataStore is a mock implementation of protocol.DataStore.
type MockDataStore struct {
	mock.Mock
}

func (m *MockDataStore) Get(ctx context.Context, companyID, entity, id string) (map[string]any, error) {
	args := m.Called(ctx, companyID, entity, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}

func (m *MockDataStore) Create(ctx context.Context, companyID, entity string, record map[string]any) (map[string]any, error) {
	args := m.Called(ctx, companyID, entity, record)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}

func (m *MockDataStore) Update(ctx context.Context, companyID, entity, id string, fields map[string]any) (map[string]any, error) {
	args := m.Called(ctx, companyID, entity, id, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}

func (m *MockDataStore) Delete(ctx context.Context, companyID, entity, id string) error {
	args := m.Called(ctx, companyID, entity, id)

	return args.Error(0)
}

// MockNotifier is a mock implementation of protocol.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n protocol.Notification) error {
	args := m.Called(ctx, n)

	return args.Error(0)
}

// MockAPICaller is a mock implementation of protocol.APICaller.
type MockAPICaller struct {
	mock.Mock
}

func (m *MockAPICaller) Call(ctx context.Context, req protocol.APIRequest) (*protocol.APIResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.APIResponse), args.Error(1)
}

// MockDocumentRenderer is a mock implementation of protocol.DocumentRenderer.
type MockDocumentRenderer struct {
	mock.Mock
}

func (m *MockDocumentRenderer) Render(ctx context.Context, req protocol.DocumentRequest) (*protocol.Document, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.Document), args.Error(1)
}

// MockApprovalRequester is a mock implementation of protocol.ApprovalRequester.
type MockApprovalRequester struct {
	mock.Mock
}

func (m *MockApprovalRequester) RequestApproval(ctx context.Context, execution *models.StepExecution, approverUserID string, cfg *models.ApprovalConfig) (*models.Approval, error) {
	args := m.Called(ctx, execution, approverUserID, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Approval), args.Error(1)
}

// MockChildStarter is a mock implementation of protocol.ChildStarter.
type MockChildStarter struct {
	mock.Mock
}

func (m *MockChildStarter) StartChild(ctx context.Context, parent *models.ProcessInstance, execution *models.StepExecution, cfg *models.SubprocessConfig, input map[string]any) (*models.ProcessInstance, error) {
	args := m.Called(ctx, parent, execution, cfg, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ProcessInstance), args.Error(1)
}

// MockConnectionSource resolves API connections.
type MockConnectionSource struct {
	mock.Mock
}

func (m *MockConnectionSource) ByID(ctx context.Context, id string) (*models.APIConnection, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.APIConnection), args.Error(1)
}
