package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net"

	"github.com/rs/zerolog"

	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
	"github.com/COS301-SE-2025/fitchfork-go/internal/storage"
)

// Access denials.
var (
	ErrIPNotAllowed = errors.New("client address is outside the allowed ranges")
	ErrPinMismatch  = errors.New("assignment pin does not match")
)

// AccessDecision is the outcome of an assignment access check. RotationTag
// changes whenever the PIN changes, so issued cookies bound to it invalidate
// immediately on rotation.
type AccessDecision struct {
	Allowed          bool   `json:"allowed"`
	RotationTag      string `json:"rotation_tag,omitempty"`
	BindCookieToUser bool   `json:"bind_cookie_to_user"`
	CookieTTLMinutes uint32 `json:"cookie_ttl_minutes"`
}

// AccessService guards password-protected assignments. The IP allowlist is
// checked before the PIN.
type AccessService interface {
	Verify(ctx context.Context, assignmentID uint, user models.User, clientIP, pin string) (AccessDecision, error)
}

type accessService struct {
	assignments repository.AssignmentRepository
	store       *storage.Store
	configs     configLoader
	logger      zerolog.Logger
}

// NewAccessService builds a new access service.
func NewAccessService(assignments repository.AssignmentRepository, store *storage.Store, configs configLoader, logger zerolog.Logger) AccessService {
	return &accessService{
		assignments: assignments,
		store:       store,
		configs:     configs,
		logger:      logger.With().Str("component", "access_service").Logger(),
	}
}

func (s *accessService) Verify(ctx context.Context, assignmentID uint, user models.User, clientIP, pin string) (AccessDecision, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return AccessDecision{}, wrapNotFound(err)
	}

	cfg, err := s.configs(s.store.Layout().ConfigPath(assignment.ModuleID, assignment.ID))
	if err != nil {
		return AccessDecision{}, err
	}

	decision := AccessDecision{
		BindCookieToUser: cfg.Security.BindCookieToUser,
		CookieTTLMinutes: cfg.Security.CookieTTLMinutes,
	}

	if models.IsStaff(user.Role) || !cfg.Security.PasswordEnabled {
		decision.Allowed = true
		decision.RotationTag = RotationTag(cfg.Security.PasswordPin)
		return decision, nil
	}

	if len(cfg.Security.AllowedCidrs) > 0 {
		if !ipAllowed(clientIP, cfg.Security.AllowedCidrs) {
			s.logger.Warn().
				Uint("assignment_id", assignmentID).
				Uint("user_id", user.ID).
				Str("client_ip", clientIP).
				Msg("access denied by ip allowlist")
			return decision, ErrIPNotAllowed
		}
	}

	if subtle.ConstantTimeCompare([]byte(pin), []byte(cfg.Security.PasswordPin)) != 1 {
		return decision, ErrPinMismatch
	}

	decision.Allowed = true
	decision.RotationTag = RotationTag(cfg.Security.PasswordPin)
	return decision, nil
}

// RotationTag derives the cookie invalidation tag from the PIN: the first 16
// hex characters of its SHA-256 digest.
func RotationTag(pin string) string {
	if pin == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])[:16]
}

// ipAllowed reports whether the client address falls inside any allowed
// CIDR. The IPv6 loopback is normalised to the IPv4 loopback first so local
// development behaves the same over both stacks.
func ipAllowed(clientIP string, cidrs []string) bool {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	if ip.Equal(net.IPv6loopback) {
		ip = net.IPv4(127, 0, 0, 1)
	}

	for _, raw := range cidrs {
		_, network, err := net.ParseCIDR(raw)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
