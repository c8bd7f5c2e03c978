package identity

import (
	"context"
	"math/big"

	"github.com/clearpathsec/bastion/internal/apperr"
	"github.com/clearpathsec/bastion/internal/audit"
	"github.com/clearpathsec/bastion/internal/model"
	"github.com/clearpathsec/bastion/internal/token"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
)

// backupCodeCount is how many recovery codes an enrollment issues.
const backupCodeCount = 10

// MFASetup is the enrollment material returned to the caller: the secret
// for the authenticator app and the raw backup codes, shown exactly once.
type MFASetup struct {
	Secret      string
	OTPAuthURL  string
	BackupCodes []string
}

// SetupMFA generates a TOTP secret and recovery codes. Nothing is
// persisted until ActivateMFA confirms the user holds the secret.
func (s *Service) SetupMFA(ctx context.Context, userID uuid.UUID, issuer string) (*MFASetup, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Wrap(err, apperr.KindDatabase, "user lookup failed")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindCrypto, "failed to generate totp key")
	}

	codes, err := s.generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	return &MFASetup{Secret: key.Secret(), OTPAuthURL: key.URL(), BackupCodes: codes}, nil
}

// ActivateMFA confirms enrollment: the user proves possession of the
// secret with a live code, then the secret and hashed backup codes are
// persisted.
func (s *Service) ActivateMFA(ctx context.Context, userID uuid.UUID, secret, code string, backupCodes []string) error {
	if !totp.Validate(code, secret) {
		return apperr.New(apperr.KindInvalidCredentials, "invalid mfa code")
	}

	hashes := make([]string, len(backupCodes))
	for i, raw := range backupCodes {
		hashes[i] = token.HashToken(raw)
	}

	if err := s.users.SetMFA(ctx, userID, true, secret, hashes); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "mfa enrollment failed")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err == nil {
		s.audit.Emit(ctx, audit.Event{
			Action:   audit.ActionMFAEnrolled,
			ActorID:  userID,
			TargetID: userID,
			TenantID: user.TenantID,
		})
	}
	return nil
}

// CompleteMFA finishes a login that returned RequiresMFA: a valid TOTP
// code (one period of drift allowed) or an unused backup code yields the
// token pair the password step withheld.
func (s *Service) CompleteMFA(ctx context.Context, userID uuid.UUID, code string, input LoginInput) (*AuthResponse, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.ErrInvalidCredentials
		}
		return nil, apperr.Wrap(err, apperr.KindDatabase, "user lookup failed")
	}
	if !user.CanAuthenticate(s.clock.Now()) {
		return nil, apperr.ErrUnauthorized
	}
	if !user.MFAEnabled || user.MFASecret == "" {
		return nil, apperr.New(apperr.KindValidation, "mfa is not enabled")
	}

	method := "mfa_totp"
	if !totp.Validate(code, user.MFASecret) {
		consumed, err := s.users.ConsumeBackupCode(ctx, userID, token.HashToken(code))
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindDatabase, "backup code lookup failed")
		}
		if !consumed {
			return nil, s.recordFailure(ctx, user, input.IP)
		}
		method = "mfa_backup_code"
	}

	if err := s.users.ResetFailedAttempts(ctx, userID); err != nil {
		s.log.Warn("failed_attempt_reset_failed", "user_id", userID, "error", err)
	}

	resp, err := s.establish(ctx, user, input, method)
	if err != nil {
		return nil, err
	}
	// MFA is satisfied for this session regardless of risk.
	resp.RequiresMFA = false

	s.audit.Emit(ctx, audit.Event{
		Action:   audit.ActionMFAVerified,
		ActorID:  userID,
		TargetID: userID,
		TenantID: user.TenantID,
		IP:       input.IP,
		Metadata: map[string]any{"method": method},
	})
	return resp, nil
}

// generateBackupCodes creates recovery codes in XXXX-XXXX form. The
// charset drops I, O, 0 and 1 to avoid transcription mistakes.
func (s *Service) generateBackupCodes(count int) ([]string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codes := make([]string, count)

	for i := 0; i < count; i++ {
		code := make([]byte, 8)
		for j := range code {
			raw, err := s.rand.Bytes(1)
			if err != nil {
				return nil, apperr.Wrap(err, apperr.KindCrypto, "entropy source failed")
			}
			idx := new(big.Int).Mod(new(big.Int).SetBytes(raw), big.NewInt(int64(len(chars))))
			code[j] = chars[idx.Int64()]
		}
		codes[i] = string(code[:4]) + "-" + string(code[4:])
	}
	return codes, nil
}

// RegisterPasskey persists a serialized WebAuthn credential for the user.
func (s *Service) RegisterPasskey(ctx context.Context, userID uuid.UUID, credentialID string, material []byte) error {
	if credentialID == "" || len(material) == 0 {
		return apperr.New(apperr.KindValidation, "credential id and key material are required")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return apperr.ErrNotFound
		}
		return apperr.Wrap(err, apperr.KindDatabase, "user lookup failed")
	}

	passkey := &model.Passkey{
		CredentialID: credentialID,
		UserID:       userID,
		Material:     material,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.passkeys.Save(ctx, passkey); err != nil {
		return apperr.Wrap(err, apperr.KindDatabase, "passkey save failed")
	}

	s.audit.Emit(ctx, audit.Event{
		Action:   audit.ActionPasskeyEnrolled,
		ActorID:  userID,
		TargetID: userID,
		TenantID: user.TenantID,
	})
	return nil
}
