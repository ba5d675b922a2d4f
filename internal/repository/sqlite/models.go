package sqlite

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel carries the id and unix-milli timestamps shared by all rows.
type BaseModel struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	CreatedAt int64  `gorm:"not null"`
	UpdatedAt int64  `gorm:"not null"`
}

func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UnixMilli()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = now
	}
	return nil
}

func (m *BaseModel) BeforeUpdate(tx *gorm.DB) error {
	m.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// Credential is the database row backing domain.Credential. Token expiry and
// reset instants are unix-milli; zero means unset.
type Credential struct {
	BaseModel
	RefreshToken string `gorm:"type:text;not null"`
	AccessToken  string `gorm:"type:text;default:''"`
	ExpiresAt    int64  `gorm:"default:0"`
	ProfileArn   string `gorm:"type:text;default:''"`

	AuthMethod   string `gorm:"type:varchar(16);not null;default:'social'"`
	ClientID     string `gorm:"type:text;default:''"`
	ClientSecret string `gorm:"type:text;default:''"`

	MachineID string `gorm:"type:varchar(64);not null"`

	Priority     int  `gorm:"default:0;index"`
	Disabled     int  `gorm:"default:0"`
	FailureCount int  `gorm:"default:0"`

	SubscriptionTitle string  `gorm:"type:text;default:''"`
	CurrentUsage      float64 `gorm:"default:0"`
	UsageLimit        float64 `gorm:"default:0"`
	NextResetAt       int64   `gorm:"default:0"`
}

func (Credential) TableName() string { return "credentials" }

func toTimestamp(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromTimestamp(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}
