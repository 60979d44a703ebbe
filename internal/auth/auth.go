// Package auth verifies Firebase ID tokens and carries the resulting
// principal through the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/dashmetrics/backend/internal/models"
)

const firebaseIssuerPrefix = "https://securetoken.google.com/"

// ErrNoToken is returned when a request carries no bearer token.
var ErrNoToken = errors.New("auth: no bearer token")

// TokenVerifier turns a raw ID token into a principal.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (models.Principal, error)
}

// FirebaseVerifier validates Firebase ID tokens against Google's published keys.
type FirebaseVerifier struct {
	verifier *oidc.IDTokenVerifier
}

type firebaseClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Firebase      struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
}

// NewFirebaseVerifier discovers the issuer for projectID and returns a verifier
// whose audience is the project id.
func NewFirebaseVerifier(ctx context.Context, projectID string) (*FirebaseVerifier, error) {
	if projectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	provider, err := oidc.NewProvider(ctx, firebaseIssuerPrefix+projectID)
	if err != nil {
		return nil, fmt.Errorf("auth: discover firebase issuer: %w", err)
	}
	return &FirebaseVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: projectID})}, nil
}

// NewFirebaseVerifierWithKeySet builds a verifier from a fixed key set,
// skipping discovery.
func NewFirebaseVerifierWithKeySet(projectID string, keys oidc.KeySet) *FirebaseVerifier {
	return &FirebaseVerifier{
		verifier: oidc.NewVerifier(firebaseIssuerPrefix+projectID, keys, &oidc.Config{ClientID: projectID}),
	}
}

func (f *FirebaseVerifier) Verify(ctx context.Context, rawToken string) (models.Principal, error) {
	token, err := f.verifier.Verify(ctx, rawToken)
	if err != nil {
		return models.Principal{}, fmt.Errorf("auth: verify id token: %w", err)
	}
	if token.Subject == "" {
		return models.Principal{}, errors.New("auth: id token has no subject")
	}

	var claims firebaseClaims
	if err := token.Claims(&claims); err != nil {
		return models.Principal{}, fmt.Errorf("auth: decode claims: %w", err)
	}
	return models.Principal{
		UID:           token.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
		Provider:      claims.Firebase.SignInProvider,
	}, nil
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached by Middleware, if any.
func PrincipalFrom(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(models.Principal)
	if !ok {
		return nil, false
	}
	return &p, true
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrNoToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrNoToken
	}
	return strings.TrimSpace(token), nil
}

// Middleware attaches a principal for requests with a valid bearer token.
// Requests without one, or with an invalid one, continue anonymously; each
// handler decides whether it needs a principal. A nil verifier makes every
// request anonymous.
func Middleware(verifier TokenVerifier, log logrus.FieldLogger) func(http.Handler) http.Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				next.ServeHTTP(w, r)
				return
			}
			raw, err := BearerToken(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			p, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				log.WithError(err).WithField("path", r.URL.Path).Info("auth: rejected bearer token; continuing anonymously")
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
