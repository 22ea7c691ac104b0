package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/foodior/apiserver/types"
)

func TestIssueAndVerify(t *testing.T) {
	t.Parallel()

	svc := NewTokenService("super-secret", time.Hour)
	userID := primitive.NewObjectID()

	tok, err := svc.Issue(userID, types.RoleAdmin)
	require.NoError(t, err)

	identity, err := svc.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, userID, identity.UserID)
	require.Equal(t, types.RoleAdmin, identity.Role)
}

func TestVerifyExpired(t *testing.T) {
	t.Parallel()

	svc := NewTokenService("secret", time.Hour)
	issuedAt := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return issuedAt }

	tok, err := svc.Issue(primitive.NewObjectID(), types.RoleUser)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyWrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := NewTokenService("right-secret", time.Hour).Issue(primitive.NewObjectID(), types.RoleUser)
	require.NoError(t, err)

	_, err = NewTokenService("wrong-secret", time.Hour).Verify(tok)
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyMalformed(t *testing.T) {
	t.Parallel()

	svc := NewTokenService("k", time.Hour)
	for _, raw := range []string{"", "not.a.jwt", "abc"} {
		_, err := svc.Verify(raw)
		require.Truef(t, errors.Is(err, ErrInvalidCredential), "token %q", raw)
	}
}

func TestVerifyRejectsForeignClaims(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")
	svc := NewTokenService(string(secret), time.Hour)

	sign := func(claims Claims) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)
		return tok
	}
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	badSubject := sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "42", ExpiresAt: exp}, Role: types.RoleUser})
	_, err := svc.Verify(badSubject)
	require.ErrorIs(t, err, ErrInvalidCredential)

	badRole := sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: primitive.NewObjectID().Hex(), ExpiresAt: exp}, Role: "Bloger"})
	_, err = svc.Verify(badRole)
	require.ErrorIs(t, err, ErrInvalidCredential)

	noExpiry := sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: primitive.NewObjectID().Hex()}, Role: types.RoleUser})
	_, err = svc.Verify(noExpiry)
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	t.Parallel()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   primitive.NewObjectID().Hex(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: types.RoleUser,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokenService("secret", time.Hour).Verify(tok)
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestIssueRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	svc := NewTokenService("secret", 0)
	require.Equal(t, DefaultTokenTTL, svc.TTL())

	_, err := svc.Issue(primitive.NilObjectID, types.RoleUser)
	require.Error(t, err)

	_, err = svc.Issue(primitive.NewObjectID(), "root")
	require.Error(t, err)
}
