package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	ErrBadSignature = errors.New("invalid signature")
	ErrExpiredURL   = errors.New("signed url expired")
)

// SignedURL issues a time-limited capability URL for a stored object. The
// signature covers the key and the expiry, so neither can be altered without
// the secret.
func (s *Store) SignedURL(baseURL, key string, ttl time.Duration) (string, error) {
	if _, err := s.cleanPath(key); err != nil {
		return "", err
	}
	exp := time.Now().Add(ttl).Unix()
	sig := s.sign(key, exp)

	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", sig)
	return fmt.Sprintf("%s/objects/%s?%s", baseURL, key, q.Encode()), nil
}

// Verify checks a presented expiry and signature for a key.
func (s *Store) Verify(key, expStr, sig string) error {
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if time.Now().Unix() > exp {
		return ErrExpiredURL
	}
	expected := s.sign(key, exp)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

func (s *Store) sign(key string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d", key, exp)
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}
