package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ecobricks/rewards-backend/api/responses"
	pkgerrors "github.com/ecobricks/rewards-backend/pkg/errors"
	"github.com/ecobricks/rewards-backend/pkg/logger"
	pkgredis "github.com/ecobricks/rewards-backend/pkg/redis"
)

// IdempotencyHeader carries the client-chosen replay key.
const IdempotencyHeader = "Idempotency-Key"

const (
	reviewReplayTTL = 24 * time.Hour
	ledgerReplayTTL = 7 * 24 * time.Hour
	// reservationTTL bounds how long a crashed request can hold its key.
	reservationTTL = 2 * time.Minute
)

type keyedRoute struct {
	method string
	prefix string
	suffix string
	ttl    time.Duration
}

// Routes that move points or review donations. Everything else passes
// through untouched.
var keyedRoutes = []keyedRoute{
	{method: http.MethodPost, prefix: "/api/v1/rewards/vouchers/", suffix: "/redeem", ttl: ledgerReplayTTL},
	{method: http.MethodPost, prefix: "/api/admin/v1/rewards/credits", ttl: ledgerReplayTTL},
	{method: http.MethodPost, prefix: "/api/v1/rewards/donations", ttl: reviewReplayTTL},
	{method: http.MethodPost, prefix: "/api/admin/v1/rewards/donations/", suffix: "/approve", ttl: reviewReplayTTL},
	{method: http.MethodPost, prefix: "/api/admin/v1/rewards/donations/", suffix: "/reject", ttl: reviewReplayTTL},
}

func (k keyedRoute) matches(method, path string) bool {
	if k.method != method {
		return false
	}
	if k.suffix == "" {
		return path == k.prefix
	}
	return len(path) > len(k.prefix)+len(k.suffix) &&
		strings.HasPrefix(path, k.prefix) && strings.HasSuffix(path, k.suffix)
}

func routeTTL(method, path string) (time.Duration, bool) {
	for _, route := range keyedRoutes {
		if route.matches(method, path) {
			return route.ttl, true
		}
	}
	return 0, false
}

type storedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body"`
	RequestHash string `json:"request_hash"`
}

// Idempotency requires an Idempotency-Key on keyedRoutes and replays the
// first settled response for a repeated key from the same user. The key is
// reserved before the handler runs, so a concurrent duplicate is refused
// instead of executed. Server errors release the key so the client may retry.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if clientKey == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := requestHash(body)
			key := store.IdempotencyKey(replayScope(r), clientKey)

			existing, err := reserve(r, store, key, hash)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if existing != nil {
				switch {
				case existing.RequestHash != hash:
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
				case existing.Pending:
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress").
						WithDetails(map[string]any{"in_progress": true}))
				default:
					writeStored(w, existing)
				}
				return
			}

			// The request may be gone by the time the handler returns; the key
			// must still be settled or released.
			storeCtx := context.WithoutCancel(r.Context())
			settled := false
			defer func() {
				if !settled {
					if err := store.Del(storeCtx, key); err != nil && logg != nil {
						logg.Error(r.Context(), "release idempotency key", err)
					}
				}
			}()

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			status := capture.statusOrOK()
			if status >= http.StatusInternalServerError {
				return
			}
			// From here on the effect happened. A failed write leaves the
			// reservation to expire rather than inviting a second run.
			settled = true
			payload, err := json.Marshal(storedResponse{
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
				RequestHash: hash,
			})
			if err == nil {
				err = store.Set(storeCtx, key, string(payload), ttl)
			}
			if err != nil && logg != nil {
				logg.Error(r.Context(), "persist idempotency record", err)
			}
		})
	}
}

// reserve claims key for this request. It returns the record already held
// under key when another request got there first.
func reserve(r *http.Request, store pkgredis.IdempotencyStore, key, hash string) (*storedResponse, error) {
	existing, err := lookupResponse(r, store, key)
	if err != nil || existing != nil {
		return existing, err
	}
	pending, err := json.Marshal(storedResponse{Pending: true, RequestHash: hash})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency reservation")
	}
	reserved, err := store.SetNX(r.Context(), key, string(pending), reservationTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "reserve idempotency key")
	}
	if reserved {
		return nil, nil
	}
	// Lost the race to a concurrent request.
	existing, err = lookupResponse(r, store, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return &storedResponse{Pending: true, RequestHash: hash}, nil
	}
	return existing, nil
}

// replayScope keeps keys from colliding across users and routes.
func replayScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func lookupResponse(r *http.Request, store pkgredis.IdempotencyStore, key string) (*storedResponse, error) {
	raw, err := store.Get(r.Context(), key)
	if errors.Is(err, pkgredis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "check idempotency")
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnavailable, err, "decode idempotency record")
	}
	return &stored, nil
}

func writeStored(w http.ResponseWriter, stored *storedResponse) {
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	if body, err := base64.StdEncoding.DecodeString(stored.Body); err == nil {
		_, _ = w.Write(body)
	}
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusOrOK() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
