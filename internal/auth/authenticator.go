package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pos-gateway/internal/models"
	"pos-gateway/internal/util"

	"go.uber.org/zap"
)

// DefaultTimestampTolerance is the allowed clock skew between a POS and the gateway
const DefaultTimestampTolerance = 5 * time.Minute

// Header names carried by every signed POS request
const (
	HeaderAPIKey        = "X-Api-Key"
	HeaderSignature     = "X-Signature"
	HeaderTimestamp     = "X-Timestamp"
	HeaderNonce         = "X-Nonce"
	HeaderAuthorization = "Authorization"
)

// Headers holds the authentication headers of a request
type Headers struct {
	APIKey      string
	Signature   string
	Timestamp   string
	Nonce       string
	BearerToken string
}

// Envelope is one inbound POS request as seen by the authenticator
type Envelope struct {
	Method  string
	Path    string
	Headers Headers
	Body    string
}

// ExtractHeaders reads the authentication headers through get, which should be
// case-insensitive (http.Header.Get is).
func ExtractHeaders(get func(string) string) Headers {
	bearer := strings.TrimSpace(get(HeaderAuthorization))
	if len(bearer) >= 7 && strings.EqualFold(bearer[:7], "bearer ") {
		bearer = strings.TrimSpace(bearer[7:])
	}

	return Headers{
		APIKey:      strings.TrimSpace(get(HeaderAPIKey)),
		Signature:   strings.TrimSpace(get(HeaderSignature)),
		Timestamp:   strings.TrimSpace(get(HeaderTimestamp)),
		Nonce:       strings.TrimSpace(get(HeaderNonce)),
		BearerToken: bearer,
	}
}

// Reason classifies an authentication failure
type Reason string

const (
	ReasonMissingAPIKey      Reason = "missing_api_key"
	ReasonMissingSignature   Reason = "missing_signature"
	ReasonMissingTimestamp   Reason = "missing_timestamp"
	ReasonMissingNonce       Reason = "missing_nonce"
	ReasonInvalidTimestamp   Reason = "invalid_timestamp"
	ReasonTimestampOutOfSkew Reason = "timestamp_out_of_window"
	ReasonInvalidCredentials Reason = "invalid_credentials"
	ReasonInvalidSignature   Reason = "invalid_signature"
	ReasonReplayed           Reason = "replayed_nonce"
)

// Failure is returned when a request does not authenticate
type Failure struct {
	Reason  Reason
	Message string
}

func (f *Failure) Error() string {
	return f.Message
}

func fail(reason Reason, format string, args ...any) *Failure {
	util.AuthFailuresTotal.WithLabelValues(string(reason)).Inc()
	return &Failure{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// CredentialLookup finds an active integration by API key. It returns nil, nil
// when no active integration matches.
type CredentialLookup interface {
	FindActiveByAPIKey(ctx context.Context, apiKey string) (*models.IntegrationConfig, error)
}

// Authenticator verifies signed POS requests
type Authenticator struct {
	credentials CredentialLookup
	replay      ReplaySeenStore
	tolerance   time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures an Authenticator
type Option func(*Authenticator)

// WithTolerance overrides the timestamp tolerance
func WithTolerance(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.tolerance = d
		}
	}
}

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(credentials CredentialLookup, replay ReplaySeenStore, opts ...Option) *Authenticator {
	a := &Authenticator{
		credentials: credentials,
		replay:      replay,
		tolerance:   DefaultTimestampTolerance,
		now:         time.Now,
		logger:      util.GetLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate verifies env and returns the matching integration with its secret
// cleared. A *Failure is returned for requests that must be rejected; any other
// error means a collaborator was unavailable.
//
// The replay store is only consulted once every other check has passed, so a
// request with a bad signature never consumes its nonce.
func (a *Authenticator) Authenticate(ctx context.Context, env *Envelope) (*models.IntegrationConfig, error) {
	ctx, span := util.StartSpan(ctx, "Authenticator.Authenticate")
	defer span.End()

	h := env.Headers
	switch {
	case h.APIKey == "":
		return nil, fail(ReasonMissingAPIKey, "missing required header: %s", HeaderAPIKey)
	case h.Signature == "":
		return nil, fail(ReasonMissingSignature, "missing required header: %s", HeaderSignature)
	case h.Timestamp == "":
		return nil, fail(ReasonMissingTimestamp, "missing required header: %s", HeaderTimestamp)
	case h.Nonce == "":
		return nil, fail(ReasonMissingNonce, "missing required header: %s", HeaderNonce)
	}

	if f := a.checkTimestamp(h.Timestamp); f != nil {
		return nil, f
	}

	cfg, err := a.credentials.FindActiveByAPIKey(ctx, h.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to look up integration: %w", err)
	}
	if cfg == nil {
		return nil, fail(ReasonInvalidCredentials, "invalid API key or integration not active")
	}

	message := CanonicalString(env.Method, env.Path, h.Timestamp, h.Nonce, env.Body)
	if !Verify(cfg.SecretKey, []byte(message), h.Signature) {
		a.logger.Warn("Signature verification failed",
			zap.String("restaurant_id", cfg.RestaurantID),
			zap.String("path", env.Path))
		return nil, fail(ReasonInvalidSignature, "signature verification failed")
	}

	fresh, err := a.replay.CheckAndRecord(ctx, ReplayKey(h.Timestamp, h.Nonce))
	if err != nil {
		return nil, fmt.Errorf("failed to check nonce: %w", err)
	}
	if !fresh {
		util.ReplayRejectionsTotal.Inc()
		a.logger.Warn("Replayed request rejected",
			zap.String("restaurant_id", cfg.RestaurantID),
			zap.String("nonce", h.Nonce))
		return nil, fail(ReasonReplayed, "nonce already used, possible replay")
	}

	redacted := cfg.Redacted()
	return &redacted, nil
}

func (a *Authenticator) checkTimestamp(raw string) *Failure {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fail(ReasonInvalidTimestamp, "invalid timestamp format: must be integer epoch seconds")
	}

	now := a.now().Unix()
	tolerance := int64(a.tolerance / time.Second)
	if ts < now-tolerance || ts > now+tolerance {
		return fail(ReasonTimestampOutOfSkew,
			"timestamp outside allowed window: server=%d request=%d", now, ts)
	}
	return nil
}
