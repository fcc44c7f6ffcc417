package api

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawblock/memswap-solver/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestValidateAuthorizationRequestRejectsNeither(t *testing.T) {
	_, err := validateAuthorizationRequest(authorizationRequest{})
	require.ErrorIs(t, err, errExactlyOneOf)
}

func TestValidateAuthorizationRequestRejectsBoth(t *testing.T) {
	req := authorizationRequest{UUID: strPtr("abc"), Intent: &models.Intent{}}
	_, err := validateAuthorizationRequest(req)
	require.ErrorIs(t, err, errExactlyOneOf)
}

func TestValidateAuthorizationRequestRejectsUUIDWithApproval(t *testing.T) {
	req := authorizationRequest{UUID: strPtr("abc"), ApprovalTxOrTxHash: "0xdead"}
	_, err := validateAuthorizationRequest(req)
	require.ErrorIs(t, err, errUUIDWithApproval)
}

func TestValidateAuthorizationRequestAcceptsUUID(t *testing.T) {
	req := authorizationRequest{UUID: strPtr("abc")}
	hasUUID, err := validateAuthorizationRequest(req)
	require.NoError(t, err)
	require.True(t, hasUUID)
}

func TestValidateAuthorizationRequestAcceptsIntent(t *testing.T) {
	req := authorizationRequest{Intent: &models.Intent{}}
	hasUUID, err := validateAuthorizationRequest(req)
	require.NoError(t, err)
	require.False(t, hasUUID)
}

func TestGetAllowedOriginDefaultsEmpty(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "")
	require.Equal(t, "", getAllowedOrigin())
}
