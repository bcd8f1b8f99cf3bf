package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DownloadClaim is the metadata a signed download token carries: the export
// job it belongs to, the file it resolves to and when the link stops working.
type DownloadClaim struct {
	JobID     string
	Path      string
	ExpiresAt time.Time
}

// SignedURLSigner mints and validates HMAC-signed download tokens for
// finished export files. Tokens are self-contained so downloads need no
// session.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Generate returns a signed token for the job's export file together with
// its expiry time.
func (s *SignedURLSigner) Generate(jobID, relPath string) (string, time.Time, error) {
	if jobID == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("jobID and relPath required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := time.Now().Add(s.ttl)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedPath := base64.RawURLEncoding.EncodeToString([]byte(relPath))
	signature := s.sign(jobID, ts, encodedPath)
	token := strings.Join([]string{jobID, ts, encodedPath, signature}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the claim it carries. With allowExpired
// the timestamp check is skipped; the cleanup sweep uses that to locate files
// behind already-dead links.
func (s *SignedURLSigner) Parse(token string, allowExpired bool) (DownloadClaim, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return DownloadClaim{}, fmt.Errorf("invalid token format")
	}
	jobID, ts, encodedPath, signature := parts[0], parts[1], parts[2], parts[3]

	rawPath, err := base64.RawURLEncoding.DecodeString(encodedPath)
	if err != nil {
		return DownloadClaim{}, fmt.Errorf("decode path: %w", err)
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return DownloadClaim{}, fmt.Errorf("invalid timestamp")
	}

	expected := s.sign(jobID, ts, encodedPath)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return DownloadClaim{}, fmt.Errorf("invalid token signature")
	}
	claim := DownloadClaim{
		JobID:     jobID,
		Path:      string(rawPath),
		ExpiresAt: time.Unix(expUnix, 0),
	}
	if !allowExpired && time.Now().After(claim.ExpiresAt) {
		return DownloadClaim{}, fmt.Errorf("token expired")
	}
	return claim, nil
}

func (s *SignedURLSigner) sign(jobID, ts, encodedPath string) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%s|%s", jobID, ts, encodedPath)
	return hex.EncodeToString(mac.Sum(nil))
}
