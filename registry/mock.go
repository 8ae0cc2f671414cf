package registry

import (
	"context"

	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockTrustStore mocks the TrustStore interface
type MockTrustStore struct {
	mock.Mock
}

// CreateRelationship mocks the CreateRelationship method
func (m *MockTrustStore) CreateRelationship(ctx context.Context, rel *interfaces.TrustRelationship) error {
	args := m.Called(ctx, rel)
	return args.Error(0)
}

// Relationship mocks the Relationship method
func (m *MockTrustStore) Relationship(ctx context.Context, id interfaces.RelationshipID) (*interfaces.TrustRelationship, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.TrustRelationship), args.Error(1)
}

// TransitionApproval mocks the TransitionApproval method
func (m *MockTrustStore) TransitionApproval(ctx context.Context, id interfaces.RelationshipID, to interfaces.ApprovalState) (*interfaces.TrustRelationship, error) {
	args := m.Called(ctx, id, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.TrustRelationship), args.Error(1)
}

// DeleteRelationship mocks the DeleteRelationship method
func (m *MockTrustStore) DeleteRelationship(ctx context.Context, id interfaces.RelationshipID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// RelationshipsByTrustor mocks the RelationshipsByTrustor method
func (m *MockTrustStore) RelationshipsByTrustor(ctx context.Context, trustor interfaces.AccountID) ([]*interfaces.TrustRelationship, error) {
	args := m.Called(ctx, trustor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*interfaces.TrustRelationship), args.Error(1)
}

// RelationshipsByTrustee mocks the RelationshipsByTrustee method
func (m *MockTrustStore) RelationshipsByTrustee(ctx context.Context, email string) ([]*interfaces.TrustRelationship, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*interfaces.TrustRelationship), args.Error(1)
}

// MockAccountDirectory mocks the AccountDirectory interface
type MockAccountDirectory struct {
	mock.Mock
}

// CreateAccount mocks the CreateAccount method
func (m *MockAccountDirectory) CreateAccount(ctx context.Context, account *interfaces.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

// Account mocks the Account method
func (m *MockAccountDirectory) Account(ctx context.Context, id interfaces.AccountID) (*interfaces.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Account), args.Error(1)
}

// AccountByEmail mocks the AccountByEmail method
func (m *MockAccountDirectory) AccountByEmail(ctx context.Context, email string) (*interfaces.Account, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.Account), args.Error(1)
}
