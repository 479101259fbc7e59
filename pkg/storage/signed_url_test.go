package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("cert-secret", time.Hour)
	token, expiresAt, err := signer.Generate("cert-1", "certificates/PA-20260301-0001.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	certID, path, parsedExpiry, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "cert-1", certID)
	require.Equal(t, "certificates/PA-20260301-0001.pdf", path)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("cert-secret", time.Millisecond*10)
	token, _, err := signer.Generate("cert-1", "certificates/PA-20260301-0001.pdf")
	require.NoError(t, err)
	time.Sleep(time.Millisecond * 20)

	_, _, _, err = signer.Parse(token, false)
	require.Error(t, err)

	// Staff tooling can still resolve the document behind an expired link.
	certID, path, _, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "cert-1", certID)
	require.Equal(t, "certificates/PA-20260301-0001.pdf", path)
}

func TestSignedURLSignerRejectsWrongSecret(t *testing.T) {
	signer := NewSignedURLSigner("cert-secret", time.Hour)
	token, _, err := signer.Generate("cert-1", "certificates/PA-20260301-0001.pdf")
	require.NoError(t, err)

	other := NewSignedURLSigner("not-the-secret", time.Hour)
	_, _, _, err = other.Parse(token, false)
	require.Error(t, err)
}
