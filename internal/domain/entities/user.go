package entities

import (
	"time"

	"github.com/volatiletech/null/v8"
)

// User is a registered wallet. ID doubles as the public referral code.
type User struct {
	ID             string      `json:"userid"`
	WalletAddress  string      `json:"wallet_address"`
	ReferredBy     null.String `json:"referred_by"`
	ReferredUsers  []string    `json:"referred_users"`
	TotalReferrals int64       `json:"total_referrals"`
	CreatedAt      time.Time   `json:"created_at"`
}

// RegisterInput is the body of POST /register
type RegisterInput struct {
	WalletAddress string `json:"wallet_address"`
}

// RegisterReferredInput is the body of POST /register-referred
type RegisterReferredInput struct {
	WalletAddress string `json:"wallet_address"`
	ReferredBy    string `json:"referred_by"`
}

// BulkLookupInput is the body of POST /bulk-lookup
type BulkLookupInput struct {
	WalletAddresses []string `json:"wallet_addresses"`
}

// Registration is the outcome of a successful register call.
type Registration struct {
	UserID        string `json:"userid"`
	WalletAddress string `json:"wallet_address"`
	ReferralLink  string `json:"referral_link"`
}

// ReferredRegistration is the outcome of a successful register-referred call.
type ReferredRegistration struct {
	UserID           string `json:"userid"`
	WalletAddress    string `json:"wallet_address"`
	ReferredBy       string `json:"referred_by"`
	ReferrerNewTotal int64  `json:"referrer_new_total"`
}
