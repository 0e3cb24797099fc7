package usecases_test

import (
	"context"

	"github.com/stretchr/testify/mock"
	"referral-tracker.backend/internal/domain/entities"
)

// Mock UnitOfWork
type MockUnitOfWork struct {
	mock.Mock
}

func (m *MockUnitOfWork) Do(ctx context.Context, f func(context.Context) error) error {
	m.Called(ctx, f)
	return f(ctx)
}

type lockedKey struct{}

// WithLock tags ctx so tests can tell which reads asked for a row lock.
func (m *MockUnitOfWork) WithLock(ctx context.Context) context.Context {
	m.Called(ctx)
	return context.WithValue(ctx, lockedKey{}, true)
}

func isLocked(ctx context.Context) bool {
	locked, _ := ctx.Value(lockedKey{}).(bool)
	return locked
}

// Mock UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *entities.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.User), args.Error(1)
}

func (m *MockUserRepository) GetByWalletAddress(ctx context.Context, walletAddress string) (*entities.User, error) {
	args := m.Called(ctx, walletAddress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.User), args.Error(1)
}

func (m *MockUserRepository) ExistsByWalletAddress(ctx context.Context, walletAddress string) (bool, error) {
	args := m.Called(ctx, walletAddress)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserRepository) IncrementReferrals(ctx context.Context, id string) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUserRepository) ListReferredIDs(ctx context.Context, referrerID string) ([]string, error) {
	args := m.Called(ctx, referrerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockUserRepository) MapIDsByWalletAddresses(ctx context.Context, walletAddresses []string) (map[string]string, error) {
	args := m.Called(ctx, walletAddresses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *MockUserRepository) ReconcileReferralCounts(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// sequence returns a generator that yields ids in order.
type sequence struct {
	ids []string
	n   int
}

func (s *sequence) Generate() string {
	id := s.ids[s.n%len(s.ids)]
	s.n++
	return id
}
