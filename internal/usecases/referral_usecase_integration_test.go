package usecases_test

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"referral-tracker.backend/internal/domain/entities"
	"referral-tracker.backend/internal/infrastructure/datasources"
	"referral-tracker.backend/internal/infrastructure/models"
	"referral-tracker.backend/internal/infrastructure/repositories"
	"referral-tracker.backend/internal/usecases"
	"referral-tracker.backend/pkg/idgen"
	"referral-tracker.backend/pkg/metrics"
	"referral-tracker.backend/pkg/wallet"
)

func newSQLiteUsecase(t *testing.T) (*usecases.ReferralUsecase, *gorm.DB) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, datasources.Migrate(db))

	policy, err := wallet.NewPolicy(wallet.ModeOpaque)
	require.NoError(t, err)

	uc := usecases.NewReferralUsecase(
		repositories.NewUserRepository(db),
		repositories.NewUnitOfWork(db),
		idgen.GeneratorFunc(idgen.Code),
		policy,
		"http://localhost:8080",
		5,
		metrics.New(),
	)
	return uc, db
}

func countRows(t *testing.T, db *gorm.DB, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.User{}).Where(where, args...).Count(&n).Error)
	return n
}

func TestReferralFlow_DuplicateWalletLeavesOneRow(t *testing.T) {
	uc, db := newSQLiteUsecase(t)
	ctx := context.Background()

	first, err := uc.Register(ctx, &entities.RegisterInput{WalletAddress: "0xAAA"})
	require.NoError(t, err)
	assert.Len(t, first.UserID, 9)

	_, err = uc.Register(ctx, &entities.RegisterInput{WalletAddress: "0xAAA"})
	requireAppError(t, err, http.StatusBadRequest, usecases.MsgWalletTaken)
	assert.Equal(t, int64(1), countRows(t, db, "wallet_address = ?", "0xAAA"))
}

func TestReferralFlow_ReferredRegistrationUpdatesReferrer(t *testing.T) {
	uc, _ := newSQLiteUsecase(t)
	ctx := context.Background()

	referrer, err := uc.Register(ctx, &entities.RegisterInput{WalletAddress: "0xAAA"})
	require.NoError(t, err)
	before, err := uc.LookupByIdentifier(ctx, referrer.UserID)
	require.NoError(t, err)

	referred, err := uc.RegisterReferred(ctx, &entities.RegisterReferredInput{WalletAddress: "0xBBB", ReferredBy: referrer.UserID})
	require.NoError(t, err)
	assert.Equal(t, before.TotalReferrals+1, referred.ReferrerNewTotal)

	after, err := uc.LookupByWallet(ctx, "0xAAA")
	require.NoError(t, err)
	assert.Equal(t, before.TotalReferrals+1, after.TotalReferrals)
	assert.Equal(t, []string{referred.UserID}, after.ReferredUsers)

	child, err := uc.LookupByWallet(ctx, "0xBBB")
	require.NoError(t, err)
	assert.Equal(t, referrer.UserID, child.ReferredBy.String)
	assert.Empty(t, child.ReferredUsers)
}

func TestReferralFlow_UnknownReferrerCreatesNothing(t *testing.T) {
	uc, db := newSQLiteUsecase(t)
	ctx := context.Background()

	_, err := uc.RegisterReferred(ctx, &entities.RegisterReferredInput{WalletAddress: "0xBBB", ReferredBy: "ZZZZZZZZZ"})
	requireAppError(t, err, http.StatusNotFound, usecases.MsgReferrerNotFound)
	assert.Equal(t, int64(0), countRows(t, db, "wallet_address = ?", "0xBBB"))
}

func TestReferralFlow_DuplicateWalletConflictsRegardlessOfReferrer(t *testing.T) {
	uc, db := newSQLiteUsecase(t)
	ctx := context.Background()

	referrer, err := uc.Register(ctx, &entities.RegisterInput{WalletAddress: "0xAAA"})
	require.NoError(t, err)
	_, err = uc.Register(ctx, &entities.RegisterInput{WalletAddress: "0xBBB"})
	require.NoError(t, err)

	for _, ref := range []string{referrer.UserID, "ZZZZZZZZZ"} {
		_, err = uc.RegisterReferred(ctx, &entities.RegisterReferredInput{WalletAddress: "0xBBB", ReferredBy: ref})
		requireAppError(t, err, http.StatusBadRequest, usecases.MsgWalletTaken)
	}

	got, err := uc.LookupByIdentifier(ctx, referrer.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TotalReferrals, "failed referral must not touch the referrer")
	assert.Equal(t, int64(2), countRows(t, db, "1 = 1"))
}

func TestReferralFlow_BulkLookupKnownOnly(t *testing.T) {
	uc, _ := newSQLiteUsecase(t)
	ctx := context.Background()

	a, err := uc.Register(ctx, &entities.RegisterInput{WalletAddress: "0xAAA"})
	require.NoError(t, err)
	b, err := uc.Register(ctx, &entities.RegisterInput{WalletAddress: "0xBBB"})
	require.NoError(t, err)

	want := map[string]string{"0xAAA": a.UserID, "0xBBB": b.UserID}
	for _, order := range [][]string{
		{"0xAAA", "0xBBB", "0xCCC"},
		{"0xCCC", "0xBBB", "0xAAA"},
	} {
		got, err := uc.BulkLookup(ctx, &entities.BulkLookupInput{WalletAddresses: order})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

// sqlite with a single connection runs these transactions one at a time, so
// this covers the full flow under goroutines, not increment atomicity. The
// store-side UPDATE shape is pinned in the repositories sqlmock tests.
func TestReferralFlow_ParallelCallersAreAllCounted(t *testing.T) {
	uc, _ := newSQLiteUsecase(t)
	ctx := context.Background()

	referrer, err := uc.Register(ctx, &entities.RegisterInput{WalletAddress: "0xREFERRER"})
	require.NoError(t, err)

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := uc.RegisterReferred(ctx, &entities.RegisterReferredInput{
				WalletAddress: fmt.Sprintf("0xCHILD%02d", i),
				ReferredBy:    referrer.UserID,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := uc.LookupByIdentifier(ctx, referrer.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.TotalReferrals)
	assert.Len(t, got.ReferredUsers, n)
}
