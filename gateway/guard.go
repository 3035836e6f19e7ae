package gateway

import (
	"crypto/subtle"
	"net/http"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ---------------------------------------------------------------------------
// Authentication guards.
//
// Guards run once at connect time. The JWT guard may attach pattern
// restrictions to the principal, which the gateway re-checks on every
// inbound message. The composite guard accepts if any constituent does,
// collecting the individual failure reasons for operators.
// ---------------------------------------------------------------------------

// APIKeyHeader is the shared-secret header checked by the API-key guard.
const APIKeyHeader = "hms-api-key"

// RegexPrefix marks a restrictPaths entry as a regular expression rather
// than a literal message pattern.
const RegexPrefix = "regex:"

// Principal is the authenticated identity attached to a connection.
// A nil restriction list means every message pattern is allowed.
type Principal struct {
	Subject string

	restrict []patternMatcher
}

type patternMatcher interface {
	matchPattern(pattern string) bool
}

type literalPattern string

func (l literalPattern) matchPattern(pattern string) bool { return string(l) == pattern }

type regexPattern struct{ re *regexp.Regexp }

func (r regexPattern) matchPattern(pattern string) bool { return r.re.MatchString(pattern) }

// AllowsPattern reports whether this principal's token may invoke the
// given message pattern.
func (p *Principal) AllowsPattern(pattern string) bool {
	if p == nil || len(p.restrict) == 0 {
		return true
	}
	for _, matcher := range p.restrict {
		if matcher.matchPattern(pattern) {
			return true
		}
	}
	return false
}

// Guard authorizes an inbound connection from its upgrade request.
// It returns the authenticated principal (nil for anonymous service
// principals) or a GatewayError explaining the denial.
type Guard interface {
	Authorize(r *http.Request) (*Principal, error)
}

// ---------------------------------------------------------------------------
// JWT guard.
// ---------------------------------------------------------------------------

// JWTGuard verifies Authorization: Bearer tokens signed with an HMAC
// secret. The optional restrictPaths claim (string or list of strings,
// each literal or regex-prefixed) limits which message patterns the token
// may invoke after connecting.
type JWTGuard struct {
	secret []byte
}

// NewJWTGuard builds a guard verifying tokens against the given secret.
func NewJWTGuard(secret []byte) *JWTGuard {
	return &JWTGuard{secret: secret}
}

func (g *JWTGuard) Authorize(r *http.Request) (*Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, NewError(CodeUnauthorized, "missing Authorization header")
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return nil, NewError(CodeUnauthorized, "Authorization header is not a bearer token")
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, NewError(CodeUnauthorized, "unexpected signing method")
		}
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, NewError(CodeUnauthorized, "invalid or expired token")
	}

	principal := &Principal{}
	if subject, _ := claims.GetSubject(); subject != "" {
		principal.Subject = subject
	}

	restrict, err := parseRestrictPaths(claims["restrictPaths"])
	if err != nil {
		return nil, err
	}
	principal.restrict = restrict
	return principal, nil
}

// parseRestrictPaths accepts a single pattern or a list of patterns.
// Entries with the regex prefix are compiled; a malformed regex rejects
// the token outright rather than silently widening its reach.
func parseRestrictPaths(claim any) ([]patternMatcher, error) {
	if claim == nil {
		return nil, nil
	}

	var entries []string
	switch v := claim.(type) {
	case string:
		entries = []string{v}
	case []any:
		for _, element := range v {
			entry, ok := element.(string)
			if !ok {
				return nil, NewError(CodeUnauthorized, "malformed restrictPaths claim")
			}
			entries = append(entries, entry)
		}
	default:
		return nil, NewError(CodeUnauthorized, "malformed restrictPaths claim")
	}

	matchers := make([]patternMatcher, 0, len(entries))
	for _, entry := range entries {
		if expr, found := strings.CutPrefix(entry, RegexPrefix); found {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, NewError(CodeUnauthorized, "malformed restrictPaths regex")
			}
			matchers = append(matchers, regexPattern{re: re})
			continue
		}
		matchers = append(matchers, literalPattern(entry))
	}
	return matchers, nil
}

// ---------------------------------------------------------------------------
// API-key guard.
// ---------------------------------------------------------------------------

// APIKeyGuard checks the static shared-secret header used by
// service-to-service producers. It carries no per-message restriction
// semantics and yields no principal.
type APIKeyGuard struct {
	key string
}

// NewAPIKeyGuard builds a guard comparing the hms-api-key header against
// the configured secret.
func NewAPIKeyGuard(key string) *APIKeyGuard {
	return &APIKeyGuard{key: key}
}

func (g *APIKeyGuard) Authorize(r *http.Request) (*Principal, error) {
	if g.key == "" {
		return nil, NewError(CodeUnauthorized, "API key auth is not configured")
	}
	supplied := r.Header.Get(APIKeyHeader)
	if supplied == "" {
		return nil, NewError(CodeUnauthorized, "missing "+APIKeyHeader+" header")
	}
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(g.key)) != 1 {
		return nil, NewError(CodeUnauthorized, "invalid API key")
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// Composite guard.
// ---------------------------------------------------------------------------

// CompositeGuard accepts if any constituent guard does. On total failure
// it denies with every collected reason joined, which helps operators
// diagnose misconfigured clients.
type CompositeGuard struct {
	guards []Guard
}

// NewCompositeGuard composes guards in evaluation order.
func NewCompositeGuard(guards ...Guard) *CompositeGuard {
	return &CompositeGuard{guards: guards}
}

func (g *CompositeGuard) Authorize(r *http.Request) (*Principal, error) {
	var reasons []string
	for _, guard := range g.guards {
		principal, err := guard.Authorize(r)
		if err == nil {
			return principal, nil
		}
		reasons = append(reasons, err.Error())
	}
	return nil, NewError(CodeUnauthorized, strings.Join(reasons, "; "))
}
