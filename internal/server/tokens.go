package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Token lifetimes. Access tokens are short so the client's refresh path is
// exercised regularly; refresh tokens are long enough for an offline phone
// to come back days later.
const (
	accessTokenTTL  = time.Hour
	refreshTokenTTL = 30 * 24 * time.Hour
)

// Token kinds baked into the signed payload so an access token can never be
// used to refresh and vice versa.
const (
	tokenKindAccess  = "access"
	tokenKindRefresh = "refresh"
)

var errInvalidToken = errors.New("server: invalid token")

// tokenSigner mints and verifies HMAC-signed bearer tokens of the form
// "userID.expiryUnix.kind.signature". Stateless: no token table, revocation
// happens by rotating the secret.
type tokenSigner struct {
	secret []byte
	now    func() time.Time
}

func newTokenSigner(secret []byte) *tokenSigner {
	return &tokenSigner{secret: secret, now: time.Now}
}

func (ts *tokenSigner) mint(userID, kind string, ttl time.Duration) string {
	expiry := ts.now().Add(ttl).Unix()
	payload := fmt.Sprintf("%s.%d.%s", userID, expiry, kind)

	return payload + "." + ts.sign(payload)
}

// verify checks the signature and expiry, returning the user id. wantKind
// restricts which token kind is acceptable.
func (ts *tokenSigner) verify(token, wantKind string) (string, error) {
	idx := strings.LastIndex(token, ".")
	if idx < 0 {
		return "", errInvalidToken
	}

	payload, sig := token[:idx], token[idx+1:]

	if !hmac.Equal([]byte(ts.sign(payload)), []byte(sig)) {
		return "", errInvalidToken
	}

	parts := strings.Split(payload, ".")
	if len(parts) != 3 || parts[2] != wantKind {
		return "", errInvalidToken
	}

	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", errInvalidToken
	}

	if ts.now().Unix() >= expiry {
		return "", errInvalidToken
	}

	return parts[0], nil
}

func (ts *tokenSigner) sign(payload string) string {
	mac := hmac.New(sha256.New, ts.secret)
	mac.Write([]byte(payload))

	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
