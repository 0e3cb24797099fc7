package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
	"referral-tracker.backend/internal/domain/entities"
	domainerrors "referral-tracker.backend/internal/domain/errors"
	"referral-tracker.backend/internal/infrastructure/models"
)

// bulkLookupChunk bounds the number of bind parameters per IN query.
const bulkLookupChunk = 500

// UserRepository implements user data operations
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user. Any unique violation (id or wallet) is
// reported as ErrAlreadyExists.
func (r *UserRepository) Create(ctx context.Context, user *entities.User) error {
	m := &models.User{
		ID:             user.ID,
		WalletAddress:  user.WalletAddress,
		ReferredBy:     user.ReferredBy.Ptr(),
		TotalReferrals: user.TotalReferrals,
		CreatedAt:      user.CreatedAt,
	}

	if err := GetDB(ctx, r.db).WithContext(ctx).Create(m).Error; err != nil {
		if IsUniqueViolation(err) {
			return domainerrors.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetByID gets a user by identifier
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByWalletAddress gets a user by wallet address
func (r *UserRepository) GetByWalletAddress(ctx context.Context, walletAddress string) (*entities.User, error) {
	return r.first(ctx, "wallet_address = ?", walletAddress)
}

// ExistsByWalletAddress reports whether the wallet is already registered
func (r *UserRepository) ExistsByWalletAddress(ctx context.Context, walletAddress string) (bool, error) {
	var count int64
	err := GetDB(ctx, r.db).WithContext(ctx).
		Model(&models.User{}).
		Where("wallet_address = ?", walletAddress).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// IncrementReferrals bumps total_referrals in the store and reads the result
// back. Run it inside a UnitOfWork so the read sees this transaction's write.
func (r *UserRepository) IncrementReferrals(ctx context.Context, id string) (int64, error) {
	db := GetDB(ctx, r.db).WithContext(ctx)

	result := db.Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("total_referrals", gorm.Expr("total_referrals + ?", 1))
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, domainerrors.ErrNotFound
	}

	var totals []int64
	if err := db.Model(&models.User{}).Where("id = ?", id).Pluck("total_referrals", &totals).Error; err != nil {
		return 0, err
	}
	if len(totals) == 0 {
		return 0, domainerrors.ErrNotFound
	}
	return totals[0], nil
}

// ListReferredIDs returns the ids referred by referrerID in registration order
func (r *UserRepository) ListReferredIDs(ctx context.Context, referrerID string) ([]string, error) {
	ids := []string{}
	err := GetDB(ctx, r.db).WithContext(ctx).
		Model(&models.User{}).
		Where("referred_by = ?", referrerID).
		Order("created_at ASC").
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// MapIDsByWalletAddresses returns wallet -> id for the wallets that exist.
// Duplicates and empty strings in the input are ignored.
func (r *UserRepository) MapIDsByWalletAddresses(ctx context.Context, walletAddresses []string) (map[string]string, error) {
	out := make(map[string]string)

	seen := make(map[string]struct{}, len(walletAddresses))
	unique := make([]string, 0, len(walletAddresses))
	for _, w := range walletAddresses {
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		unique = append(unique, w)
	}

	db := GetDB(ctx, r.db).WithContext(ctx)
	for start := 0; start < len(unique); start += bulkLookupChunk {
		end := start + bulkLookupChunk
		if end > len(unique) {
			end = len(unique)
		}

		var rows []models.User
		err := db.Select("id", "wallet_address").
			Where("wallet_address IN ?", unique[start:end]).
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			out[row.WalletAddress] = row.ID
		}
	}
	return out, nil
}

const reconcileSQL = `UPDATE users SET total_referrals = (
	SELECT COUNT(*) FROM users AS r WHERE r.referred_by = users.id
) WHERE total_referrals <> (
	SELECT COUNT(*) FROM users AS r WHERE r.referred_by = users.id
)`

// MySQL rejects a subquery on the table being updated, so it gets a join
// against a grouped derived table instead.
const reconcileMySQL = `UPDATE users AS u
LEFT JOIN (
	SELECT referred_by, COUNT(*) AS cnt FROM users WHERE referred_by IS NOT NULL GROUP BY referred_by
) AS c ON c.referred_by = u.id
SET u.total_referrals = COALESCE(c.cnt, 0)
WHERE u.total_referrals <> COALESCE(c.cnt, 0)`

// ReconcileReferralCounts rewrites every total_referrals that disagrees with
// the referred_by index and returns how many rows changed.
//
// On postgres the statement runs under REPEATABLE READ: a referrer row touched
// by a concurrent referral fails with a serialization error instead of being
// written from a snapshot that misses the new child. The next run repairs it.
func (r *UserRepository) ReconcileReferralCounts(ctx context.Context) (int64, error) {
	db := GetDB(ctx, r.db).WithContext(ctx)

	switch db.Dialector.Name() {
	case "mysql":
		return execRowsAffected(db, reconcileMySQL)
	case "postgres":
		var repaired int64
		err := db.Transaction(func(tx *gorm.DB) error {
			var err error
			repaired, err = execRowsAffected(tx, reconcileSQL)
			return err
		}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
		if err != nil {
			return 0, err
		}
		return repaired, nil
	default:
		return execRowsAffected(db, reconcileSQL)
	}
}

func execRowsAffected(db *gorm.DB, stmt string) (int64, error) {
	result := db.Exec(stmt)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *UserRepository) first(ctx context.Context, query string, arg string) (*entities.User, error) {
	var m models.User
	if err := GetDB(ctx, r.db).WithContext(ctx).Where(query, arg).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return r.toEntity(&m), nil
}

func (r *UserRepository) toEntity(m *models.User) *entities.User {
	return &entities.User{
		ID:             m.ID,
		WalletAddress:  m.WalletAddress,
		ReferredBy:     null.StringFromPtr(m.ReferredBy),
		TotalReferrals: m.TotalReferrals,
		CreatedAt:      m.CreatedAt,
	}
}
