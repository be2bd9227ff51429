package service_test

import (
	"testing"
	"time"

	"github.com/chickenbids/auction/internal/clock"
	"github.com/chickenbids/auction/internal/domain"
	"github.com/chickenbids/auction/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	clk := clock.NewFake(t0)
	auth := service.NewAuthService(testConfig(), clk)
	user := uuid.New()

	tok, err := auth.IssueAccessToken(user, service.RoleOperator)
	require.NoError(t, err)

	claims, err := auth.ParseAccessToken(tok)
	require.NoError(t, err)
	require.Equal(t, service.RoleOperator, claims.Role)
	id, err := claims.UserID()
	require.NoError(t, err)
	require.Equal(t, user, id)

	_, err = auth.ParseAccessToken(tok + "x")
	require.ErrorIs(t, err, domain.ErrTokenInvalid)

	clk.Advance(16 * time.Minute)
	_, err = auth.ParseAccessToken(tok)
	require.ErrorIs(t, err, domain.ErrTokenExpired)
	require.True(t, domain.IsAuthError(err))
}

func TestAuthService_RejectsOtherSecret(t *testing.T) {
	clk := clock.NewFake(t0)
	cfg := testConfig()
	tok, err := service.NewAuthService(cfg, clk).IssueAccessToken(uuid.New(), service.RoleBuyer)
	require.NoError(t, err)

	other := testConfig()
	other.JWT.AccessSecret = "another-secret"
	_, err = service.NewAuthService(other, clk).ParseAccessToken(tok)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
}
