package webhook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	bodies := [][]byte{
		[]byte(`{"events":[]}`),
		[]byte(`{"destination":"U0","events":[{"type":"follow"}]}`),
		{},
	}
	for _, body := range bodies {
		sig := Sign(body, "channel-secret")
		require.True(t, Verify(body, sig, "channel-secret"))
	}
}

func TestVerifyRejectsMutations(t *testing.T) {
	body := []byte(`{"events":[{"type":"message"}]}`)
	sig := Sign(body, "channel-secret")

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		require.False(t, Verify(mutated, sig, "channel-secret"), "body byte %d", i)
	}

	for i := range sig {
		mutated := []byte(sig)
		mutated[i] ^= 0x01
		require.False(t, Verify(body, string(mutated), "channel-secret"), "signature byte %d", i)
	}
}

func TestVerifyRejectsMissingInputs(t *testing.T) {
	body := []byte(`{}`)
	require.False(t, Verify(body, "", "secret"))
	require.False(t, Verify(body, Sign(body, "secret"), ""))
	require.False(t, Verify(body, Sign(body, "secret"), "other-secret"))
	require.False(t, Verify(body, "%%%not-base64", "secret"))
}
