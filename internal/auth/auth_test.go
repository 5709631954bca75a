package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Issue("alice", "proj-1", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "proj-1", claims.ProjectID)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Issue("alice", "", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v1 := NewVerifier("secret-one")
	v2 := NewVerifier("secret-two")

	token, err := v1.Issue("alice", "", time.Hour)
	require.NoError(t, err)

	_, err = v2.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsMissingUserID(t *testing.T) {
	v := NewVerifier("test-secret")
	// Issue with an empty user id to simulate a token whose claims lack it.
	token, err := v.Issue("", "", time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsNoSecretConfigured(t *testing.T) {
	v := NewVerifier("")
	_, err := v.Verify("anything")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
