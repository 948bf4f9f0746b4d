package password

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"
)

var fastParams = params{time: 1, memory: 8 * 1024, threads: 1, keyLen: 32, saltLen: 16}

func TestHashEncodesSaltAndSum(t *testing.T) {
	secret := []byte("correct horse")
	encoded, err := hash(secret, fastParams)
	require.NoError(t, err)

	parts := strings.Split(encoded, "$")
	require.Len(t, parts, 6)
	require.Equal(t, "argon2id", parts[1])
	require.Equal(t, "v=19", parts[2])
	require.Equal(t, "m=8192,t=1,p=1", parts[3])

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	require.NoError(t, err)
	require.Len(t, salt, fastParams.saltLen)
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	require.NoError(t, err)
	require.Equal(t, argon2.IDKey(secret, salt, fastParams.time, fastParams.memory, fastParams.threads, fastParams.keyLen), sum)
	require.NotEqual(t, argon2.IDKey([]byte("wrong"), salt, fastParams.time, fastParams.memory, fastParams.threads, fastParams.keyLen), sum)
}

func TestHashUsesFreshSalt(t *testing.T) {
	a, err := hash([]byte("same"), fastParams)
	require.NoError(t, err)
	b, err := hash([]byte("same"), fastParams)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestRandomHashIsUnique(t *testing.T) {
	a, err := RandomHash()
	require.NoError(t, err)
	b, err := RandomHash()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.True(t, strings.HasPrefix(a, "$argon2id$v=19$m=65536,t=3,p=2$"))
}
