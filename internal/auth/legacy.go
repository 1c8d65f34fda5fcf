package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrSignatureSkew is returned when a legacy signature timestamp is outside
// the accepted window.
var ErrSignatureSkew = errors.New("signature timestamp outside allowed window")

// LegacySigner verifies the shared-secret signatures issued by game servers:
// hex(HMAC-SHA256(secret, "gameid|areaid|uid|ts")).
type LegacySigner struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

func NewLegacySigner(secret string, maxSkew time.Duration) *LegacySigner {
	return &LegacySigner{secret: []byte(secret), maxSkew: maxSkew, now: time.Now}
}

// Sign returns the signature for the given player tuple.
func (s *LegacySigner) Sign(gameID, areaID, uid string, ts int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strings.Join([]string{gameID, areaID, uid, strconv.FormatInt(ts, 10)}, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks sign and the timestamp window.
func (s *LegacySigner) Verify(gameID, areaID, uid string, ts int64, sign string) error {
	if len(s.secret) == 0 {
		return ErrInvalidCredentials
	}
	if gameID == "" || uid == "" || sign == "" {
		return ErrInvalidCredentials
	}
	want := s.Sign(gameID, areaID, uid, ts)
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(sign))) {
		return ErrInvalidCredentials
	}
	if s.maxSkew > 0 {
		skew := s.now().Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > s.maxSkew {
			return ErrSignatureSkew
		}
	}
	return nil
}
