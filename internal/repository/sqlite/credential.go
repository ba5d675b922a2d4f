package sqlite

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/awsl-project/kirod/internal/auth"
	"github.com/awsl-project/kirod/internal/domain"
	"github.com/awsl-project/kirod/internal/repository"
)

// CredentialRepository persists the credential pool.
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository builds the repository on an open database.
func NewCredentialRepository(db *DB) repository.CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) List() ([]*domain.Credential, error) {
	var models []Credential
	if err := r.db.gorm.Order("priority ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Credential, len(models))
	for i := range models {
		out[i] = toDomain(&models[i])
	}
	return out, nil
}

func (r *CredentialRepository) GetByID(id uint64) (*domain.Credential, error) {
	var model Credential
	if err := r.db.gorm.First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return toDomain(&model), nil
}

func (r *CredentialRepository) Create(c *domain.Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.MachineID == "" {
		c.MachineID = auth.NewMachineID()
	}

	model := fromDomain(c)
	err := r.db.gorm.Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if err != nil {
		return err
	}

	c.ID = model.ID
	c.CreatedAt = time.UnixMilli(model.CreatedAt)
	c.UpdatedAt = time.UnixMilli(model.UpdatedAt)
	return nil
}

func (r *CredentialRepository) Delete(id uint64) error {
	return r.db.gorm.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&Credential{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (r *CredentialRepository) UpdateTokens(id uint64, accessToken string, expiresAt time.Time, profileArn string) error {
	updates := map[string]any{
		"access_token": accessToken,
		"expires_at":   expiresAt.UnixMilli(),
		"updated_at":   time.Now().UnixMilli(),
	}
	if profileArn != "" {
		updates["profile_arn"] = profileArn
	}
	return r.updateByID(id, updates)
}

func (r *CredentialRepository) SetDisabled(id uint64, disabled bool) error {
	v := 0
	if disabled {
		v = 1
	}
	return r.updateByID(id, map[string]any{
		"disabled":   v,
		"updated_at": time.Now().UnixMilli(),
	})
}

func (r *CredentialRepository) SetPriority(id uint64, priority int) error {
	if priority < 0 {
		return domain.ErrInvalidInput
	}
	return r.updateByID(id, map[string]any{
		"priority":   priority,
		"updated_at": time.Now().UnixMilli(),
	})
}

func (r *CredentialRepository) IncrementFailure(id uint64) error {
	return r.db.gorm.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Credential{}).Where("id = ?", id).Updates(map[string]any{
			"failure_count": gorm.Expr("failure_count + 1"),
			"updated_at":    time.Now().UnixMilli(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (r *CredentialRepository) ResetFailure(id uint64) error {
	return r.updateByID(id, map[string]any{
		"failure_count": 0,
		"updated_at":    time.Now().UnixMilli(),
	})
}

func (r *CredentialRepository) UpdateBalance(id uint64, b *domain.CredentialBalance) error {
	return r.updateByID(id, map[string]any{
		"subscription_title": b.SubscriptionTitle,
		"current_usage":      b.CurrentUsage,
		"usage_limit":        b.UsageLimit,
		"next_reset_at":      toTimestamp(b.NextResetAt),
		"updated_at":         time.Now().UnixMilli(),
	})
}

func (r *CredentialRepository) updateByID(id uint64, updates map[string]any) error {
	return r.db.gorm.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Credential{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func toDomain(m *Credential) *domain.Credential {
	return &domain.Credential{
		ID:        m.ID,
		CreatedAt: time.UnixMilli(m.CreatedAt),
		UpdatedAt: time.UnixMilli(m.UpdatedAt),

		RefreshToken: m.RefreshToken,
		AccessToken:  m.AccessToken,
		ExpiresAt:    fromTimestamp(m.ExpiresAt),
		ProfileArn:   m.ProfileArn,

		AuthMethod:   domain.AuthMethod(m.AuthMethod),
		ClientID:     m.ClientID,
		ClientSecret: m.ClientSecret,

		MachineID: m.MachineID,

		Priority:     m.Priority,
		Disabled:     m.Disabled != 0,
		FailureCount: m.FailureCount,

		SubscriptionTitle: m.SubscriptionTitle,
		CurrentUsage:      m.CurrentUsage,
		UsageLimit:        m.UsageLimit,
		NextResetAt:       fromTimestamp(m.NextResetAt),
	}
}

func fromDomain(c *domain.Credential) *Credential {
	disabled := 0
	if c.Disabled {
		disabled = 1
	}
	return &Credential{
		BaseModel: BaseModel{ID: c.ID},

		RefreshToken: c.RefreshToken,
		AccessToken:  c.AccessToken,
		ExpiresAt:    toTimestamp(c.ExpiresAt),
		ProfileArn:   c.ProfileArn,

		AuthMethod:   string(c.AuthMethod),
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,

		MachineID: c.MachineID,

		Priority:     c.Priority,
		Disabled:     disabled,
		FailureCount: c.FailureCount,

		SubscriptionTitle: c.SubscriptionTitle,
		CurrentUsage:      c.CurrentUsage,
		UsageLimit:        c.UsageLimit,
		NextResetAt:       toTimestamp(c.NextResetAt),
	}
}
