package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)

	token, expiresAt, err := signer.Generate("job-1", "report-cards/gen-1.pdf")
	require.NoError(t, err)
	require.True(t, expiresAt.After(time.Now()))

	claim, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "job-1", claim.JobID)
	require.Equal(t, "report-cards/gen-1.pdf", claim.Path)
	require.Equal(t, expiresAt.Unix(), claim.ExpiresAt.Unix())
}

func TestSignedURLRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)

	token, _, err := signer.Generate("job-1", "report-cards/gen-1.pdf")
	require.NoError(t, err)

	_, err = signer.Parse(token+"x", false)
	require.Error(t, err)

	other := NewSignedURLSigner("different", time.Hour)
	_, err = other.Parse(token, false)
	require.Error(t, err)
}

func TestSignedURLExpiry(t *testing.T) {
	signer := &SignedURLSigner{secret: []byte("secret"), ttl: -time.Hour}

	token, _, err := signer.Generate("job-1", "report-cards/gen-1.csv")
	require.NoError(t, err)

	_, err = signer.Parse(token, false)
	require.Error(t, err)

	claim, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "report-cards/gen-1.csv", claim.Path)
}
