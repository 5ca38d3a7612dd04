package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-do-not-use-in-production")

func issueTestToken(t *testing.T, secret []byte, mutate func(*TokenClaims)) string {
	t.Helper()
	now := time.Now()
	claims := TokenClaims{
		Issuer:    "cortex",
		Subject:   "agent-1",
		Audience:  "spine-bridge",
		Scope:     []string{"recommend"},
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(time.Minute).Unix(),
		NotBefore: now.Add(-time.Second).Unix(),
		Nonce:     uuid.NewString(),
	}
	if mutate != nil {
		mutate(&claims)
	}
	token, err := Issue(secret, claims)
	require.NoError(t, err)
	return token
}

func testValidator() *Validator {
	return NewValidator(Config{
		Secret:           testSecret,
		ExpectedIssuer:   "cortex",
		ExpectedAudience: "spine-bridge",
	})
}

func TestValidate_AcceptsWellFormedToken(t *testing.T) {
	v := testValidator()
	token := issueTestToken(t, testSecret, nil)

	claims, err := v.Validate(token, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "agent-1", claims.Subject)
}

func TestValidate_RejectsBadSignature(t *testing.T) {
	v := testValidator()
	token := issueTestToken(t, []byte("wrong-secret"), nil)

	_, err := v.Validate(token, time.Now())
	assert.Error(t, err)
}

func TestValidate_RejectsMalformedToken(t *testing.T) {
	v := testValidator()
	_, err := v.Validate("not-a-token", time.Now())
	assert.Error(t, err)
}

func TestValidate_RejectsWrongIssuer(t *testing.T) {
	v := testValidator()
	token := issueTestToken(t, testSecret, func(c *TokenClaims) { c.Issuer = "someone-else" })

	_, err := v.Validate(token, time.Now())
	assert.Error(t, err)
}

func TestValidate_RejectsWrongAudience(t *testing.T) {
	v := testValidator()
	token := issueTestToken(t, testSecret, func(c *TokenClaims) { c.Audience = "someone-else" })

	_, err := v.Validate(token, time.Now())
	assert.Error(t, err)
}

func TestValidate_RejectsExpiredToken(t *testing.T) {
	v := testValidator()
	now := time.Now()
	token := issueTestToken(t, testSecret, func(c *TokenClaims) {
		c.IssuedAt = now.Add(-time.Hour).Unix()
		c.ExpiresAt = now.Add(-time.Minute).Unix()
	})

	_, err := v.Validate(token, now)
	assert.Error(t, err)
}

func TestValidate_ExpiryWithinClockSkewIsAccepted(t *testing.T) {
	v := NewValidator(Config{
		Secret:             testSecret,
		ExpectedIssuer:     "cortex",
		ExpectedAudience:   "spine-bridge",
		ClockSkewTolerance: 5 * time.Second,
	})
	now := time.Now()
	token := issueTestToken(t, testSecret, func(c *TokenClaims) {
		c.ExpiresAt = now.Add(-2 * time.Second).Unix()
	})

	_, err := v.Validate(token, now)
	assert.NoError(t, err, "expiry 2s in the past is within a 5s skew tolerance")
}

func TestValidate_RejectsNotYetValidToken(t *testing.T) {
	v := testValidator()
	now := time.Now()
	token := issueTestToken(t, testSecret, func(c *TokenClaims) {
		c.NotBefore = now.Add(time.Hour).Unix()
	})

	_, err := v.Validate(token, now)
	assert.Error(t, err)
}

func TestValidate_RejectsTokenIssuedInTheFuture(t *testing.T) {
	v := testValidator()
	now := time.Now()
	token := issueTestToken(t, testSecret, func(c *TokenClaims) {
		c.IssuedAt = now.Add(time.Hour).Unix()
		c.NotBefore = 0
	})

	_, err := v.Validate(token, now)
	assert.Error(t, err)
}

func TestValidate_RejectsTokenOverMaxAge(t *testing.T) {
	v := NewValidator(Config{
		Secret:           testSecret,
		ExpectedIssuer:   "cortex",
		ExpectedAudience: "spine-bridge",
		MaxTokenAge:      time.Minute,
	})
	now := time.Now()
	token := issueTestToken(t, testSecret, func(c *TokenClaims) {
		c.IssuedAt = now.Add(-10 * time.Minute).Unix()
		c.ExpiresAt = now.Add(time.Hour).Unix()
	})

	_, err := v.Validate(token, now)
	assert.Error(t, err, "an unexpired token older than the max age must still be rejected")
}

func TestValidate_RequiredScope(t *testing.T) {
	v := NewValidator(Config{
		Secret:           testSecret,
		ExpectedIssuer:   "cortex",
		ExpectedAudience: "spine-bridge",
		RequiredScope:    "recommend",
	})

	token := issueTestToken(t, testSecret, nil)
	_, err := v.Validate(token, time.Now())
	assert.NoError(t, err)

	token = issueTestToken(t, testSecret, func(c *TokenClaims) { c.Scope = []string{"observe"} })
	_, err = v.Validate(token, time.Now())
	assert.Error(t, err, "a token without the required scope must be rejected")
}

func TestValidate_RejectsMissingNonce(t *testing.T) {
	v := testValidator()
	token := issueTestToken(t, testSecret, func(c *TokenClaims) { c.Nonce = "" })

	_, err := v.Validate(token, time.Now())
	assert.Error(t, err)
}

func TestValidate_RejectsReplayedNonce(t *testing.T) {
	v := testValidator()
	nonce := uuid.NewString()
	token := issueTestToken(t, testSecret, func(c *TokenClaims) { c.Nonce = nonce })

	_, err := v.Validate(token, time.Now())
	require.NoError(t, err)

	// Same claims, re-signed identically: the nonce alone gates replay.
	_, err = v.Validate(token, time.Now())
	assert.Error(t, err, "a second presentation of the same nonce must be rejected")
}

func TestRotateKey_OldSecretAcceptedDuringGrace(t *testing.T) {
	v := NewValidator(Config{
		Secret:           testSecret,
		ExpectedIssuer:   "cortex",
		ExpectedAudience: "spine-bridge",
		RotationGrace:    time.Hour,
	})
	tokenOld := issueTestToken(t, testSecret, nil)

	newSecret := []byte("rotated-secret")
	v.RotateKey(newSecret)

	_, err := v.Validate(tokenOld, time.Now())
	assert.NoError(t, err, "tokens signed with the previous secret remain valid during the grace window")

	tokenNew := issueTestToken(t, newSecret, func(c *TokenClaims) { c.Nonce = uuid.NewString() })
	_, err = v.Validate(tokenNew, time.Now())
	assert.NoError(t, err)
}

func TestRotateKey_OldSecretRejectedAfterGrace(t *testing.T) {
	v := NewValidator(Config{
		Secret:           testSecret,
		ExpectedIssuer:   "cortex",
		ExpectedAudience: "spine-bridge",
		RotationGrace:    time.Hour,
	})
	tokenOld := issueTestToken(t, testSecret, nil)

	v.RotateKey([]byte("rotated-secret"))
	v.graceUntil = time.Now().Add(-time.Second) // force grace expiry

	_, err := v.Validate(tokenOld, time.Now())
	assert.Error(t, err, "the old secret must stop validating once the grace window has elapsed")
}
