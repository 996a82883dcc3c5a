package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

type contextKey string

const clientIDKey contextKey = "client_id"

// Request signing headers. The signature covers method, path, and timestamp
// so a captured request cannot be replayed against another endpoint or
// outside the skew window.
const (
	headerAPIKey    = "X-API-Key"
	headerTimestamp = "X-Timestamp"
	headerSignature = "X-Signature"
)

// Authenticator validates API-key + HMAC-SHA256 signed requests. Keys maps a
// key id to its shared secret.
type Authenticator struct {
	keys map[string]string
	skew time.Duration
	now  func() time.Time
}

func NewAuthenticator(keys map[string]string, skew time.Duration) *Authenticator {
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	return &Authenticator{keys: keys, skew: skew, now: time.Now}
}

// Sign computes the signature a client must send for a request. Exported so
// integration tests and client SDK code share one definition.
func Sign(secret, method, path string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(method + "\n" + path + "\n" + strconv.FormatInt(ts.Unix(), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate checks the signing headers and returns the client id.
func (a *Authenticator) Authenticate(r *http.Request) (string, bool) {
	keyID := r.Header.Get(headerAPIKey)
	secret, ok := a.keys[keyID]
	if !ok {
		return "", false
	}

	tsRaw := r.Header.Get(headerTimestamp)
	unix, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return "", false
	}
	ts := time.Unix(unix, 0)
	if d := a.now().Sub(ts); d > a.skew || d < -a.skew {
		return "", false
	}

	want := Sign(secret, r.Method, r.URL.Path, ts)
	got := r.Header.Get(headerSignature)
	if !hmac.Equal([]byte(want), []byte(got)) {
		return "", false
	}
	return keyID, true
}

// Middleware rejects unsigned requests and stores the client id on the
// request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID, ok := a.Authenticate(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or missing request signature")
			return
		}
		ctx := context.WithValue(r.Context(), clientIDKey, clientID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientID extracts the authenticated client id from a request context.
func ClientID(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}
