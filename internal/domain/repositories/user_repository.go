package repositories

import (
	"context"

	"referral-tracker.backend/internal/domain/entities"
)

// UserRepository defines user data operations
type UserRepository interface {
	Create(ctx context.Context, user *entities.User) error
	GetByID(ctx context.Context, id string) (*entities.User, error)
	GetByWalletAddress(ctx context.Context, walletAddress string) (*entities.User, error)
	ExistsByWalletAddress(ctx context.Context, walletAddress string) (bool, error)
	// IncrementReferrals adds one to the referrer's counter with a store-side
	// expression and returns the new total.
	IncrementReferrals(ctx context.Context, id string) (int64, error)
	ListReferredIDs(ctx context.Context, referrerID string) ([]string, error)
	MapIDsByWalletAddresses(ctx context.Context, walletAddresses []string) (map[string]string, error)
	// ReconcileReferralCounts rewrites drifted counters from referred_by and
	// returns the number of rows repaired.
	ReconcileReferralCounts(ctx context.Context) (int64, error)
}
