package usecases

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"
	"referral-tracker.backend/internal/domain/entities"
	domainerrors "referral-tracker.backend/internal/domain/errors"
	"referral-tracker.backend/internal/domain/repositories"
	"referral-tracker.backend/pkg/idgen"
	"referral-tracker.backend/pkg/logger"
	"referral-tracker.backend/pkg/metrics"
	"referral-tracker.backend/pkg/wallet"
)

// Client-facing messages
const (
	MsgWalletRequired         = "Wallet address is required."
	MsgWalletAndReferrerReq   = "Wallet address and referred_by are required."
	MsgWalletInvalid          = "Wallet address is not a valid EVM address."
	MsgWalletTaken            = "This wallet address is already registered."
	MsgReferrerNotFound       = "Referrer not found."
	MsgUserNotFound           = "User not found."
	MsgIdentifierSpaceTooFull = "Could not allocate a unique identifier, try again."
)

var timeNow = func() time.Time { return time.Now().UTC() }

// ReferralUsecase handles registration and referral bookkeeping
type ReferralUsecase struct {
	userRepo    repositories.UserRepository
	uow         repositories.UnitOfWork
	ids         idgen.Generator
	wallets     *wallet.Policy
	baseURL     string
	maxAttempts int
	metrics     *metrics.Metrics
}

// NewReferralUsecase creates a new referral usecase. maxAttempts below one is
// treated as one.
func NewReferralUsecase(
	userRepo repositories.UserRepository,
	uow repositories.UnitOfWork,
	ids idgen.Generator,
	wallets *wallet.Policy,
	baseURL string,
	maxAttempts int,
	m *metrics.Metrics,
) *ReferralUsecase {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if wallets == nil {
		wallets, _ = wallet.NewPolicy(wallet.ModeOpaque)
	}
	return &ReferralUsecase{
		userRepo:    userRepo,
		uow:         uow,
		ids:         ids,
		wallets:     wallets,
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxAttempts: maxAttempts,
		metrics:     m,
	}
}

// Register creates a user without a referrer
func (u *ReferralUsecase) Register(ctx context.Context, input *entities.RegisterInput) (*entities.Registration, error) {
	if input == nil || strings.TrimSpace(input.WalletAddress) == "" {
		return nil, domainerrors.BadRequest(MsgWalletRequired)
	}
	walletAddress, err := u.normalize(input.WalletAddress)
	if err != nil {
		return nil, err
	}

	id, err := u.insertWithFreshID(ctx, walletAddress, func(txCtx context.Context, id string) error {
		if err := u.ensureWalletFree(txCtx, walletAddress); err != nil {
			return err
		}
		return u.userRepo.Create(txCtx, &entities.User{
			ID:            id,
			WalletAddress: walletAddress,
			CreatedAt:     timeNow(),
		})
	})
	if err != nil {
		return nil, err
	}

	u.metrics.IncRegistration(metrics.KindDirect)
	logger.Info(ctx, "User registered", zap.String("userid", id), zap.String("wallet_address", walletAddress))

	return &entities.Registration{
		UserID:        id,
		WalletAddress: walletAddress,
		ReferralLink:  u.ReferralLink(id),
	}, nil
}

// RegisterReferred creates a user credited to an existing referrer and bumps
// the referrer's counter in the same transaction.
func (u *ReferralUsecase) RegisterReferred(ctx context.Context, input *entities.RegisterReferredInput) (*entities.ReferredRegistration, error) {
	if input == nil || strings.TrimSpace(input.WalletAddress) == "" || strings.TrimSpace(input.ReferredBy) == "" {
		return nil, domainerrors.BadRequest(MsgWalletAndReferrerReq)
	}
	walletAddress, err := u.normalize(input.WalletAddress)
	if err != nil {
		return nil, err
	}
	referrerID := strings.TrimSpace(input.ReferredBy)

	var newTotal int64
	id, err := u.insertWithFreshID(ctx, walletAddress, func(txCtx context.Context, id string) error {
		// wallet first: a duplicate wallet is a conflict whatever the referrer
		if err := u.ensureWalletFree(txCtx, walletAddress); err != nil {
			return err
		}

		// the referrer row stays locked until commit, so a concurrent
		// reconcile cannot rewrite it from a count that misses this child
		if _, err := u.userRepo.GetByID(u.uow.WithLock(txCtx), referrerID); err != nil {
			if errors.Is(err, domainerrors.ErrNotFound) {
				return domainerrors.NotFound(MsgReferrerNotFound)
			}
			return err
		}

		if err := u.userRepo.Create(txCtx, &entities.User{
			ID:            id,
			WalletAddress: walletAddress,
			ReferredBy:    null.StringFrom(referrerID),
			CreatedAt:     timeNow(),
		}); err != nil {
			return err
		}

		total, err := u.userRepo.IncrementReferrals(txCtx, referrerID)
		if err != nil {
			if errors.Is(err, domainerrors.ErrNotFound) {
				return domainerrors.NotFound(MsgReferrerNotFound)
			}
			return err
		}
		newTotal = total
		return nil
	})
	if err != nil {
		return nil, err
	}

	u.metrics.IncRegistration(metrics.KindReferred)
	logger.Info(ctx, "Referred user registered",
		zap.String("userid", id),
		zap.String("referred_by", referrerID),
		zap.Int64("referrer_new_total", newTotal),
	)

	return &entities.ReferredRegistration{
		UserID:           id,
		WalletAddress:    walletAddress,
		ReferredBy:       referrerID,
		ReferrerNewTotal: newTotal,
	}, nil
}

// LookupByWallet returns the user registered with walletAddress
func (u *ReferralUsecase) LookupByWallet(ctx context.Context, walletAddress string) (*entities.User, error) {
	normalized, err := u.wallets.Normalize(walletAddress)
	if err != nil {
		return nil, domainerrors.NotFound(MsgUserNotFound)
	}
	user, err := u.userRepo.GetByWalletAddress(ctx, normalized)
	return u.withReferredUsers(ctx, user, err)
}

// LookupByIdentifier resolves an identifier (referral code) to its user
func (u *ReferralUsecase) LookupByIdentifier(ctx context.Context, id string) (*entities.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domainerrors.NotFound(MsgUserNotFound)
	}
	user, err := u.userRepo.GetByID(ctx, id)
	return u.withReferredUsers(ctx, user, err)
}

// BulkLookup maps each known wallet to its identifier. Unknown wallets are
// omitted; keys are the addresses as the caller sent them.
func (u *ReferralUsecase) BulkLookup(ctx context.Context, input *entities.BulkLookupInput) (map[string]string, error) {
	mapping := make(map[string]string)
	if input == nil || len(input.WalletAddresses) == 0 {
		return mapping, nil
	}

	// normalized -> original spellings
	originals := make(map[string][]string, len(input.WalletAddresses))
	query := make([]string, 0, len(input.WalletAddresses))
	for _, raw := range input.WalletAddresses {
		normalized, err := u.wallets.Normalize(raw)
		if err != nil {
			continue
		}
		if _, ok := originals[normalized]; !ok {
			query = append(query, normalized)
		}
		originals[normalized] = append(originals[normalized], raw)
	}

	found, err := u.userRepo.MapIDsByWalletAddresses(ctx, query)
	if err != nil {
		return nil, u.internal(ctx, "bulk lookup failed", err)
	}

	for normalized, id := range found {
		for _, raw := range originals[normalized] {
			mapping[raw] = id
		}
	}
	return mapping, nil
}

// ReferralLink builds the shareable link for an identifier
func (u *ReferralUsecase) ReferralLink(id string) string {
	return u.baseURL + "/referral/" + id
}

// insertWithFreshID runs fn in a transaction with a newly generated
// identifier. A unique violation that fn does not already report as an
// AppError rolls back and retries with another identifier.
func (u *ReferralUsecase) insertWithFreshID(ctx context.Context, walletAddress string, fn func(txCtx context.Context, id string) error) (string, error) {
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		id := u.ids.Generate()

		err := u.uow.Do(ctx, func(txCtx context.Context) error {
			return fn(txCtx, id)
		})
		if err == nil {
			return id, nil
		}

		if appErr, ok := domainerrors.AsAppError(err); ok {
			return "", appErr
		}
		if !errors.Is(err, domainerrors.ErrAlreadyExists) {
			return "", u.internal(ctx, "registration failed", err)
		}

		u.metrics.IncIDCollision()
		logger.Warn(ctx, "Unique violation on insert, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", u.maxAttempts),
		)
	}

	// the last violation may have been a concurrent insert of the same wallet
	if exists, err := u.userRepo.ExistsByWalletAddress(ctx, walletAddress); err == nil && exists {
		return "", domainerrors.Conflict(MsgWalletTaken)
	}
	return "", domainerrors.Conflict(MsgIdentifierSpaceTooFull)
}

func (u *ReferralUsecase) ensureWalletFree(ctx context.Context, walletAddress string) error {
	exists, err := u.userRepo.ExistsByWalletAddress(ctx, walletAddress)
	if err != nil {
		return err
	}
	if exists {
		return domainerrors.Conflict(MsgWalletTaken)
	}
	return nil
}

func (u *ReferralUsecase) normalize(walletAddress string) (string, error) {
	normalized, err := u.wallets.Normalize(walletAddress)
	switch {
	case err == nil:
		return normalized, nil
	case errors.Is(err, wallet.ErrEmpty):
		return "", domainerrors.BadRequest(MsgWalletRequired)
	default:
		return "", domainerrors.BadRequest(MsgWalletInvalid)
	}
}

func (u *ReferralUsecase) withReferredUsers(ctx context.Context, user *entities.User, err error) (*entities.User, error) {
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.NotFound(MsgUserNotFound)
		}
		return nil, u.internal(ctx, "user lookup failed", err)
	}

	referred, err := u.userRepo.ListReferredIDs(ctx, user.ID)
	if err != nil {
		return nil, u.internal(ctx, "referred users lookup failed", err)
	}
	user.ReferredUsers = referred
	return user, nil
}

func (u *ReferralUsecase) internal(ctx context.Context, msg string, err error) error {
	logger.Error(ctx, msg, zap.Error(err))
	return domainerrors.InternalError(err)
}
