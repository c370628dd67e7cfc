package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
	minPasswordLength      = 8
)

var (
	// ErrEmailTaken indicates the email already has an account.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials covers unknown email, wrong password, and
	// deactivated accounts; callers must not distinguish between them.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrUserNotFound indicates no account matches the identifier.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrRefreshTokenInvalid covers unknown, expired, and revoked
	// refresh tokens.
	ErrRefreshTokenInvalid = errors.New("users: refresh token invalid")
	// ErrUnknownTier indicates the tier does not name a real plan.
	ErrUnknownTier = errors.New("users: unknown subscription tier")
	// ErrWeakPassword indicates the password fails the minimum policy.
	ErrWeakPassword = fmt.Errorf("users: password must be at least %d characters", minPasswordLength)
)

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database        *gorm.DB
	Clock           func() time.Time
	Logger          *zap.Logger
	RefreshTokenTTL time.Duration
}

// Service manages accounts, subscription tiers, and refresh tokens.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	logger     *zap.Logger
	refreshTTL time.Duration
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = defaultRefreshTokenTTL
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		logger:     logger,
		refreshTTL: ttl,
	}, nil
}

// Register creates an account on the free tier. Emails are normalized
// to lower case before the uniqueness check so BOB@x.com and bob@x.com
// collide.
func (s *Service) Register(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return User{}, ErrInvalidCredentials
	}
	if len(password) < minPasswordLength {
		return User{}, ErrWeakPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}

	account := User{
		Email:            email,
		HashedPassword:   string(hashed),
		Role:             RoleUser,
		SubscriptionTier: TierFree,
		IsActive:         true,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
			return fmt.Errorf("users: check email: %w", err)
		}
		if existing > 0 {
			return ErrEmailTaken
		}
		return tx.Create(&account).Error
	})
	if err != nil {
		return User{}, err
	}

	s.logger.Info("user registered", zap.Uint("user_id", account.ID))
	return account, nil
}

// Authenticate verifies an email and password pair. The same error is
// returned for every failure mode so login attempts cannot probe which
// emails exist.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	var account User
	err := s.db.WithContext(ctx).
		Where("email = ?", normalizeEmail(email)).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Burn a comparison anyway to keep timing uniform.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000"), []byte(password))
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, fmt.Errorf("users: lookup account: %w", err)
	}
	if !account.IsActive {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.HashedPassword), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return account, nil
}

// GetByID loads an account by its primary key.
func (s *Service) GetByID(ctx context.Context, userID uint) (User, error) {
	var account User
	err := s.db.WithContext(ctx).Take(&account, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: lookup account: %w", err)
	}
	return account, nil
}

// UpdateTier moves an account to a new plan. A nil expiry means the
// plan does not lapse.
func (s *Service) UpdateTier(ctx context.Context, userID uint, tier Tier, expiresAt *time.Time) (User, error) {
	if !KnownTier(tier) {
		return User{}, ErrUnknownTier
	}

	var account User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Take(&account, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("users: lookup account: %w", err)
		}
		account.SubscriptionTier = tier
		account.SubscriptionExpiresAt = expiresAt
		return tx.Save(&account).Error
	})
	if err != nil {
		return User{}, err
	}

	s.logger.Info("subscription tier updated",
		zap.Uint("user_id", userID),
		zap.String("tier", string(tier)))
	return account, nil
}

// EffectiveTier resolves the tier an account is entitled to right now.
// A lapsed premium subscription degrades to free without mutating the
// stored row; billing reconciliation owns the durable downgrade.
func (s *Service) EffectiveTier(account User) Tier {
	if account.SubscriptionTier == TierPremium &&
		account.SubscriptionExpiresAt != nil &&
		account.SubscriptionExpiresAt.Before(s.now()) {
		return TierFree
	}
	if !KnownTier(account.SubscriptionTier) {
		return TierFree
	}
	return account.SubscriptionTier
}

// IssueRefreshToken mints a refresh token for the account.
func (s *Service) IssueRefreshToken(ctx context.Context, userID uint) (RefreshToken, error) {
	token := RefreshToken{
		UserID:    userID,
		Token:     uuid.NewString(),
		ExpiresAt: s.now().UTC().Add(s.refreshTTL),
	}
	if err := s.db.WithContext(ctx).Create(&token).Error; err != nil {
		return RefreshToken{}, fmt.Errorf("users: issue refresh token: %w", err)
	}
	return token, nil
}

// RotateRefreshToken exchanges a live refresh token for a new one,
// revoking the presented token in the same transaction. Expired and
// already-revoked tokens are rejected.
func (s *Service) RotateRefreshToken(ctx context.Context, presented string) (User, RefreshToken, error) {
	var account User
	var replacement RefreshToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current RefreshToken
		err := tx.Where("token = ?", presented).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRefreshTokenInvalid
		}
		if err != nil {
			return fmt.Errorf("users: lookup refresh token: %w", err)
		}

		now := s.now().UTC()
		if current.RevokedAt != nil || now.After(current.ExpiresAt) {
			return ErrRefreshTokenInvalid
		}

		if err := tx.Take(&account, current.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRefreshTokenInvalid
			}
			return fmt.Errorf("users: lookup account: %w", err)
		}
		if !account.IsActive {
			return ErrRefreshTokenInvalid
		}

		current.RevokedAt = &now
		if err := tx.Save(&current).Error; err != nil {
			return fmt.Errorf("users: revoke refresh token: %w", err)
		}

		replacement = RefreshToken{
			UserID:    account.ID,
			Token:     uuid.NewString(),
			ExpiresAt: now.Add(s.refreshTTL),
		}
		return tx.Create(&replacement).Error
	})
	if err != nil {
		return User{}, RefreshToken{}, err
	}
	return account, replacement, nil
}

// RevokeRefreshTokens invalidates every live refresh token of an
// account, e.g. on logout-everywhere or password change.
func (s *Service) RevokeRefreshTokens(ctx context.Context, userID uint) error {
	now := s.now().UTC()
	err := s.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", now).Error
	if err != nil {
		return fmt.Errorf("users: revoke refresh tokens: %w", err)
	}
	return nil
}
