package unsubtoken

import (
	"errors"
	"testing"

	"github.com/fintrack-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestEncodeDecode_RoundTrip(t *testing.T) {
	token := Encode("alice@example.com", domain.PrefMarketing, secret)
	email, flag, err := Decode(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)
	assert.Equal(t, domain.PrefMarketing, flag)
}

func TestEncode_Stable(t *testing.T) {
	// Same recipient must always get the same link.
	assert.Equal(t,
		Encode("a@b.com", "", secret),
		Encode("a@b.com", "", secret))
}

func TestDecode_EmptyFlag(t *testing.T) {
	email, flag, err := Decode(Encode("bob@example.com", "", secret), secret)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", email)
	assert.Equal(t, "", flag)
}

func TestDecode_TamperedPayloadRejected(t *testing.T) {
	token := Encode("alice@example.com", "", secret)
	tampered := "x" + token[1:]
	_, _, err := Decode(tampered, secret)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}

func TestDecode_WrongSecretRejected(t *testing.T) {
	token := Encode("alice@example.com", "", secret)
	_, _, err := Decode(token, "other-secret")
	require.Error(t, err)
}

func TestDecode_Malformed(t *testing.T) {
	_, _, err := Decode("garbage", secret)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}
