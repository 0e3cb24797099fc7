package models

import (
	"time"
)

// User is the persisted row for a registered wallet. There is no
// referred_users column; that list is read back through the referred_by index.
type User struct {
	ID             string    `gorm:"type:varchar(64);primaryKey"`
	WalletAddress  string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	ReferredBy     *string   `gorm:"type:varchar(64);index"`
	TotalReferrals int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (User) TableName() string {
	return "users"
}
