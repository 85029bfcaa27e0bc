package fritzbox

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	fmerrors "github.com/rcourtman/fritzmesh/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"
)

func TestComputeChallengeResponseKnownVector(t *testing.T) {
	// Example from the AVM session id technical note.
	got, err := ComputeChallengeResponse("2$10000$5A1711$2000$5A1722", "1example!")
	require.NoError(t, err)
	assert.Equal(t, "5A1722$1798a1672bca7c6463d6b245f82b53703b0f50813401b03e4045a5861e689adb", got)
}

func TestComputeChallengeResponseMatchesTwoRoundPBKDF2(t *testing.T) {
	salt1, _ := hex.DecodeString("aa")
	salt2, _ := hex.DecodeString("bb")
	first := pbkdf2.Key([]byte("secret"), salt1, 10, 32, sha256.New)
	want := "bb$" + hex.EncodeToString(pbkdf2.Key(first, salt2, 20, 32, sha256.New))

	got, err := ComputeChallengeResponse("2$10$aa$20$bb", "secret")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, got, len("bb$")+64)

	again, err := ComputeChallengeResponse("2$10$aa$20$bb", "secret")
	require.NoError(t, err)
	assert.Equal(t, got, again, "response must be deterministic")

	other, err := ComputeChallengeResponse("2$10$aa$20$bb", "Secret")
	require.NoError(t, err)
	assert.NotEqual(t, got, other)
}

func TestComputeChallengeResponseMalformed(t *testing.T) {
	tests := []struct {
		name      string
		challenge string
	}{
		{name: "too few fields", challenge: "2$10$aa$20"},
		{name: "too many fields", challenge: "2$10$aa$20$bb$cc"},
		{name: "legacy md5 challenge", challenge: "1234567z"},
		{name: "empty", challenge: ""},
		{name: "salt1 not hex", challenge: "2$10$zz$20$bb"},
		{name: "salt2 not hex", challenge: "2$10$aa$20$xyz"},
		{name: "iteration not numeric", challenge: "2$ten$aa$20$bb"},
		{name: "zero iterations", challenge: "2$10$aa$0$bb"},
		{name: "negative iterations", challenge: "2$-1$aa$20$bb"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeChallengeResponse(tt.challenge, "secret")
			require.Error(t, err)
			assert.Empty(t, got)
			assert.True(t, errors.Is(err, fmerrors.ErrMalformedChallenge), "error should wrap ErrMalformedChallenge: %v", err)

			var proxyErr *fmerrors.ProxyError
			require.ErrorAs(t, err, &proxyErr)
			assert.Equal(t, fmerrors.ErrorTypeChallenge, proxyErr.Type)
			assert.Equal(t, tt.challenge, proxyErr.Target)
		})
	}
}
