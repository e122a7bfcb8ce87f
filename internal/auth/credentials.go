package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"cms-backend/internal/apperr"
	"cms-backend/internal/audit"
	"cms-backend/internal/database"
	"cms-backend/internal/metrics"
	"cms-backend/internal/models"
	"cms-backend/internal/rbac"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type CredentialDeps struct {
	DB      *gorm.DB
	Hasher  PasswordHasher
	Tokens  TokenIssuer
	Limiter ResetLimiter
	Mailer  Sender
	Log     *logrus.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time

	AccessTokenTTL time.Duration
	ResetTokenTTL  time.Duration
}

// Sender is the outbound mail collaborator.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// CredentialService runs login, password change and the reset-token life cycle.
type CredentialService struct {
	CredentialDeps

	dummyOnce sync.Once
	dummyHash string
}

func NewCredentialService(deps CredentialDeps) *CredentialService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.AccessTokenTTL == 0 {
		deps.AccessTokenTTL = 24 * time.Hour
	}
	if deps.ResetTokenTTL == 0 {
		deps.ResetTokenTTL = 15 * time.Minute
	}
	return &CredentialService{CredentialDeps: deps}
}

type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *models.User
}

// Authenticate verifies credentials and issues a session token. A missing
// user and a wrong password produce the same error.
func (s *CredentialService) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.verifyCredentials(ctx, email, password)
	if err != nil {
		s.Metrics.Login("invalid_credentials")
		return nil, err
	}
	if !user.IsActive {
		s.Metrics.Login("inactive")
		return nil, apperr.Forbidden("account is deactivated")
	}
	if user.MustChangePassword {
		s.Metrics.Login("password_change_required")
		return nil, apperr.Wrap(apperr.KindPasswordChangeRequired, "password change required before login", nil)
	}

	now := s.Now()
	if err := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).
		Updates(map[string]any{"last_login": now, "updated_at": now}).Error; err != nil {
		return nil, apperr.FromDB(err, "record login")
	}
	user.LastLogin = &now

	token, exp, err := s.Tokens.Issue(user.ID, user.Role, s.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	s.Metrics.Login("success")
	s.Log.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("user logged in")
	return &Session{Token: token, ExpiresAt: exp, User: user}, nil
}

// ChangePassword is the way out of the forced-reset state: it needs the
// current password rather than a session.
func (s *CredentialService) ChangePassword(ctx context.Context, email, current, next string) error {
	user, err := s.verifyCredentials(ctx, email, current)
	if err != nil {
		return err
	}
	if !user.IsActive {
		return apperr.Forbidden("account is deactivated")
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	if current == next {
		return apperr.Validation("new password must differ from the current one")
	}
	hash, err := s.Hasher.Hash(next)
	if err != nil {
		return err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := setPassword(tx, user.ID, hash, false, s.Now()); err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			Actor:       user,
			EntityType:  audit.EntityUser,
			EntityID:    user.ID,
			Action:      models.AuditActionUpdate,
			Description: "password changed",
		})
	})
	if err != nil {
		return apperr.FromDB(err, "change password")
	}
	s.Log.WithField("user_id", user.ID).Info("password changed")
	return nil
}

// RequestReset issues a single-use reset token and mails it. The cooldown
// applies per normalized email whether or not the account exists; an unknown
// email succeeds without sending anything.
func (s *CredentialService) RequestReset(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	if !models.ValidEmail(email) {
		return apperr.Validation("malformed email address")
	}

	ok, err := s.Limiter.Allow(ctx, email)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "reset limiter", err)
	}
	if !ok {
		s.Metrics.ResetRequest("rate_limited")
		return apperr.Wrap(apperr.KindRateLimited, "a reset was requested recently, try again later", nil)
	}

	var user models.User
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.Metrics.ResetRequest("unknown_email")
			s.Log.WithField("email", email).Info("password reset requested for unknown email")
			return nil
		}
		s.release(ctx, email)
		return apperr.FromDB(err, "look up user")
	}

	raw, digest, err := newResetToken()
	if err != nil {
		s.release(ctx, email)
		return err
	}
	now := s.Now()

	// The token row commits only if delivery succeeded, so the caller never
	// sees a successful request that was not sent.
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tok := models.PasswordResetToken{
			UserID:    user.ID,
			TokenHash: digest,
			ExpiresAt: now.Add(s.ResetTokenTTL),
		}
		if err := tx.Create(&tok).Error; err != nil {
			return err
		}
		body := fmt.Sprintf(
			"Hello %s,\n\nTo reset your password, use the following token (valid for %d minutes):\n\n%s\n\nIf you didn't request this, you can ignore this email.\n",
			user.FullName, int(s.ResetTokenTTL.Minutes()), raw)
		if err := s.Mailer.Send(ctx, user.Email, "Password Reset Request", body); err != nil {
			return apperr.Wrap(apperr.KindDeliveryFailed, "send reset email", err)
		}
		return nil
	})
	if err != nil {
		s.release(ctx, email)
		s.Metrics.ResetRequest("failed")
		s.Log.WithError(err).WithField("user_id", user.ID).Warn("password reset request failed")
		return apperr.FromDB(err, "issue reset token")
	}

	s.Metrics.ResetRequest("sent")
	s.Log.WithField("user_id", user.ID).Info("password reset token sent")
	return nil
}

// RedeemReset sets a new password using a reset token. Success deletes every
// reset token of the user, so no other outstanding token can be replayed.
func (s *CredentialService) RedeemReset(ctx context.Context, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	digest := hashResetToken(token)
	now := s.Now()

	var userID uuid.UUID
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tok models.PasswordResetToken
		if err := database.ForUpdate(tx).Where("token_hash = ?", digest).First(&tok).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrInvalidOrExpiredToken
			}
			return err
		}
		if !tok.Valid(now) {
			return apperr.ErrInvalidOrExpiredToken
		}
		userID = tok.UserID

		if err := setPassword(tx, tok.UserID, hash, false, now); err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", tok.UserID).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		return audit.WriteLog(tx, audit.LogOptions{
			EntityType:  audit.EntityUser,
			EntityID:    tok.UserID,
			Action:      models.AuditActionReset,
			Description: "password reset with token",
		})
	})
	if err != nil {
		s.Metrics.ResetRedeem(apperr.KindOf(err).String())
		return apperr.FromDB(err, "redeem reset token")
	}

	s.Metrics.ResetRedeem("ok")
	s.Log.WithField("user_id", userID).Info("password reset redeemed")
	return nil
}

// AdminReset sets a one-time password on target and forces a change at next
// login. The target must be visible to actor (otherwise NotFound) and
// updatable by actor (otherwise Forbidden).
func (s *CredentialService) AdminReset(ctx context.Context, actor *models.User, targetID uuid.UUID) error {
	if err := rbac.PreventSelfAction(actor, targetID); err != nil {
		return err
	}
	otp, err := GenerateOneTimePassword()
	if err != nil {
		return err
	}
	hash, err := s.Hasher.Hash(otp)
	if err != nil {
		return err
	}
	now := s.Now()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.User
		if err := database.ForUpdate(tx).First(&target, "id = ?", targetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("user not found")
			}
			return err
		}
		if !rbac.CanView(actor, &target) {
			return apperr.NotFound("user not found")
		}
		if err := rbac.CheckUpdate(actor, &target); err != nil {
			return err
		}

		if err := setPassword(tx, target.ID, hash, true, now); err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", target.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		if err := audit.WriteLog(tx, audit.LogOptions{
			Actor:       actor,
			EntityType:  audit.EntityUser,
			EntityID:    target.ID,
			Action:      models.AuditActionReset,
			Description: "one-time password set by administrator",
		}); err != nil {
			return err
		}

		body := fmt.Sprintf(
			"Hello %s,\n\nYour password was reset by an administrator. Your one-time password is:\n\n%s\n\nYou must change it before you can log in.\n",
			target.FullName, otp)
		if err := s.Mailer.Send(ctx, target.Email, "Your password was reset", body); err != nil {
			return apperr.Wrap(apperr.KindDeliveryFailed, "send one-time password", err)
		}
		return nil
	})
	if err != nil {
		return apperr.FromDB(err, "reset password")
	}

	s.Log.WithFields(logrus.Fields{"actor_id": actor.ID, "user_id": targetID}).Info("one-time password issued")
	return nil
}

// PurgeExpired deletes reset tokens that expired at or before now. It is safe
// to call repeatedly and concurrently.
func (s *CredentialService) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.PasswordResetToken{})
	if res.Error != nil {
		return 0, apperr.FromDB(res.Error, "purge expired tokens")
	}
	s.Metrics.TokensPurged(res.RowsAffected)
	return res.RowsAffected, nil
}

func (s *CredentialService) verifyCredentials(ctx context.Context, email, password string) (*models.User, error) {
	email = models.NormalizeEmail(email)

	var user models.User
	err := s.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.FromDB(err, "look up user")
	}
	if err != nil {
		// Spend the same hashing time as for an existing account.
		s.Hasher.Verify(password, s.dummy())
		return nil, apperr.ErrInvalidCredentials
	}
	if !s.Hasher.Verify(password, user.PasswordHash) {
		return nil, apperr.ErrInvalidCredentials
	}
	return &user, nil
}

func (s *CredentialService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.Hasher.Hash(uuid.NewString())
	})
	return s.dummyHash
}

func (s *CredentialService) release(ctx context.Context, email string) {
	if err := s.Limiter.Release(ctx, email); err != nil {
		s.Log.WithError(err).WithField("email", email).Warn("release reset cooldown")
	}
}

func setPassword(tx *gorm.DB, userID uuid.UUID, hash string, mustChange bool, now time.Time) error {
	return tx.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]any{
		"password_hash":        hash,
		"must_change_password": mustChange,
		"updated_at":           now,
	}).Error
}

func newResetToken() (raw, digest string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate reset token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, hashResetToken(raw), nil
}

func hashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
