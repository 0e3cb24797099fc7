package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"referral-tracker.backend/internal/domain/entities"
	domainerrors "referral-tracker.backend/internal/domain/errors"
	"referral-tracker.backend/internal/interfaces/http/response"
	"referral-tracker.backend/internal/usecases"
)

const msgWalletListNotArray = "wallet_addresses must be an array of strings."

type referralService interface {
	Register(ctx context.Context, input *entities.RegisterInput) (*entities.Registration, error)
	RegisterReferred(ctx context.Context, input *entities.RegisterReferredInput) (*entities.ReferredRegistration, error)
	LookupByWallet(ctx context.Context, walletAddress string) (*entities.User, error)
	LookupByIdentifier(ctx context.Context, id string) (*entities.User, error)
	BulkLookup(ctx context.Context, input *entities.BulkLookupInput) (map[string]string, error)
}

// ReferralHandler handles registration and lookup endpoints
type ReferralHandler struct {
	referralUsecase referralService
}

// NewReferralHandler creates a new referral handler
func NewReferralHandler(referralUsecase referralService) *ReferralHandler {
	return &ReferralHandler{referralUsecase: referralUsecase}
}

// GetUser returns the full record for a wallet
// GET /user/:wallet_address
func (h *ReferralHandler) GetUser(c *gin.Context) {
	user, err := h.referralUsecase.LookupByWallet(c.Request.Context(), c.Param("wallet_address"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// Register registers a wallet without a referrer
// POST /register
func (h *ReferralHandler) Register(c *gin.Context) {
	var input entities.RegisterInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, domainerrors.BadRequest(usecases.MsgWalletRequired))
		return
	}

	result, err := h.referralUsecase.Register(c.Request.Context(), &input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"message":        "User registered successfully.",
		"userid":         result.UserID,
		"wallet_address": result.WalletAddress,
		"referral_link":  result.ReferralLink,
	})
}

// GetReferral resolves a referral code to the referring wallet
// GET /referral/:userid
func (h *ReferralHandler) GetReferral(c *gin.Context) {
	user, err := h.referralUsecase.LookupByIdentifier(c.Request.Context(), c.Param("userid"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"userid":           user.ID,
		"referring_wallet": user.WalletAddress,
	})
}

// RegisterReferred registers a wallet credited to a referrer
// POST /register-referred
func (h *ReferralHandler) RegisterReferred(c *gin.Context) {
	var input entities.RegisterReferredInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, domainerrors.BadRequest(usecases.MsgWalletAndReferrerReq))
		return
	}

	result, err := h.referralUsecase.RegisterReferred(c.Request.Context(), &input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"message":            "Referred user registered successfully.",
		"userid":             result.UserID,
		"wallet_address":     result.WalletAddress,
		"referrer_new_total": result.ReferrerNewTotal,
	})
}

// BulkLookup maps many wallets to identifiers in one call
// POST /bulk-lookup
func (h *ReferralHandler) BulkLookup(c *gin.Context) {
	var body struct {
		WalletAddresses json.RawMessage `json:"wallet_addresses"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, domainerrors.BadRequest(msgWalletListNotArray))
		return
	}

	// a missing field, null, or any non-array value is rejected
	var input entities.BulkLookupInput
	if len(body.WalletAddresses) == 0 || body.WalletAddresses[0] != '[' {
		response.Error(c, domainerrors.BadRequest(msgWalletListNotArray))
		return
	}
	if err := json.Unmarshal(body.WalletAddresses, &input.WalletAddresses); err != nil {
		response.Error(c, domainerrors.BadRequest(msgWalletListNotArray))
		return
	}

	mapping, err := h.referralUsecase.BulkLookup(c.Request.Context(), &input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"mapping": mapping})
}
