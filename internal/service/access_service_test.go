package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
	"github.com/COS301-SE-2025/fitchfork-go/internal/models"
	"github.com/COS301-SE-2025/fitchfork-go/internal/repository"
	"github.com/COS301-SE-2025/fitchfork-go/internal/storage"
)

func accessFixture(t *testing.T, cfg *execconfig.Config) (AccessService, *gorm.DB, models.Assignment) {
	t.Helper()
	db := setupServiceDB(t)

	assignment := models.Assignment{
		ModuleID:      1,
		Name:          "Semester Test",
		Status:        models.AssignmentStatusOpen,
		AvailableFrom: time.Now().Add(-time.Hour),
		DueDate:       time.Now().Add(time.Hour),
	}
	require.NoError(t, db.Create(&assignment).Error)

	store := storage.NewStore(storage.NewLayout(t.TempDir()))
	svc := NewAccessService(
		repository.NewAssignmentRepository(db),
		store,
		fixedConfig(cfg),
		testLogger(),
	)
	return svc, db, assignment
}

func secureConfig() execconfig.Config {
	cfg := execconfig.Default()
	cfg.Security.PasswordEnabled = true
	cfg.Security.PasswordPin = "482913"
	cfg.Security.AllowedCidrs = []string{"10.0.0.0/8"}
	return cfg
}

func TestVerifyOpenAssignmentNeedsNoPin(t *testing.T) {
	cfg := execconfig.Default()
	svc, _, assignment := accessFixture(t, &cfg)

	student := models.User{ID: 1, Role: models.RoleStudent}
	decision, err := svc.Verify(context.Background(), assignment.ID, student, "203.0.113.9", "")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.RotationTag)
}

func TestVerifyCidrCheckedBeforePin(t *testing.T) {
	cfg := secureConfig()
	svc, _, assignment := accessFixture(t, &cfg)
	student := models.User{ID: 1, Role: models.RoleStudent}

	// correct pin from a disallowed address is still refused
	_, err := svc.Verify(context.Background(), assignment.ID, student, "203.0.113.9", "482913")
	require.ErrorIs(t, err, ErrIPNotAllowed)

	// allowed address with the wrong pin fails on the pin
	_, err = svc.Verify(context.Background(), assignment.ID, student, "10.1.2.3", "000000")
	require.ErrorIs(t, err, ErrPinMismatch)

	decision, err := svc.Verify(context.Background(), assignment.ID, student, "10.1.2.3", "482913")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, RotationTag("482913"), decision.RotationTag)
	assert.True(t, decision.BindCookieToUser)
	assert.Equal(t, uint32(480), decision.CookieTTLMinutes)
}

func TestVerifyStaffBypassesGuards(t *testing.T) {
	cfg := secureConfig()
	svc, _, assignment := accessFixture(t, &cfg)

	staff := models.User{ID: 2, Role: models.RoleLecturer}
	decision, err := svc.Verify(context.Background(), assignment.ID, staff, "203.0.113.9", "")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestVerifyNormalisesIPv6Loopback(t *testing.T) {
	cfg := secureConfig()
	cfg.Security.AllowedCidrs = []string{"127.0.0.0/8"}
	svc, _, assignment := accessFixture(t, &cfg)

	student := models.User{ID: 1, Role: models.RoleStudent}
	decision, err := svc.Verify(context.Background(), assignment.ID, student, "::1", "482913")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestVerifySkipsMalformedCidrs(t *testing.T) {
	cfg := secureConfig()
	cfg.Security.AllowedCidrs = []string{"not-a-cidr", "10.0.0.0/8"}
	svc, _, assignment := accessFixture(t, &cfg)

	student := models.User{ID: 1, Role: models.RoleStudent}
	decision, err := svc.Verify(context.Background(), assignment.ID, student, "10.1.2.3", "482913")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestRotationTag(t *testing.T) {
	tag := RotationTag("482913")
	assert.Len(t, tag, 16)
	assert.Equal(t, tag, RotationTag("482913"))
	assert.NotEqual(t, tag, RotationTag("482914"))
	assert.Empty(t, RotationTag(""))
}
