package token

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ---- Public types ----

type SessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Keyring struct {
	Alg     string
	Secret  []byte
	Issuer  string
	SkewSec int
	// MaxTTL caps Sign() and rejects tokens whose lifetime exceeds it.
	MaxTTL time.Duration

	now func() time.Time
}

// ---- Errors ----

var (
	ErrEmptyToken     = errors.New("empty token")
	ErrIssuerMismatch = errors.New("issuer mismatch")
	ErrTTLTooLarge    = errors.New("token lifetime exceeds max")
	ErrExpMissing     = errors.New("exp missing")
	ErrNbfInFuture    = errors.New("nbf in the future")
	ErrSubjectMissing = errors.New("sub missing")
	ErrShortSecret    = errors.New("signing secret too short; need >=16 bytes")
)

// MinSecretLen is the shortest signing secret NewKeyring accepts.
const MinSecretLen = 16

// ---- Constructors ----

// NewKeyring prepares an HMAC signing/verification keyring over a single
// operator-supplied secret.
func NewKeyring(alg string, secret []byte, iss string, skew int, maxTTL time.Duration) (*Keyring, error) {
	switch alg {
	case "HS256", "HS384", "HS512":
	default:
		return nil, errors.New("unsupported alg (expected HS256/384/512)")
	}
	if len(secret) < MinSecretLen {
		return nil, ErrShortSecret
	}
	if iss == "" {
		iss = "hiddengate"
	}
	if maxTTL <= 0 {
		maxTTL = 7 * 24 * time.Hour
	}
	return &Keyring{
		Alg:     alg,
		Secret:  append([]byte(nil), secret...),
		Issuer:  iss,
		SkewSec: skew,
		MaxTTL:  maxTTL,
		now:     time.Now,
	}, nil
}

// ---- Operations ----

// Sign mints a session token for subject with the given role. ttl is clamped
// to MaxTTL.
func (k *Keyring) Sign(subject, role string, ttl time.Duration) (string, *SessionClaims, error) {
	if subject == "" {
		return "", nil, ErrSubjectMissing
	}
	if ttl <= 0 || ttl > k.MaxTTL {
		ttl = k.MaxTTL
	}
	now := k.clock()
	claims := &SessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    k.Issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.GetSigningMethod(k.Alg), claims)
	s, err := t.SignedString(k.Secret)
	if err != nil {
		return "", nil, err
	}
	return s, claims, nil
}

// Verify checks signature, algorithm, issuer and time-based claims. Any
// structural problem with tok is reported as an error; it never panics.
func (k *Keyring) Verify(tok string) (*SessionClaims, error) {
	if tok == "" {
		return nil, ErrEmptyToken
	}
	skew := time.Duration(k.SkewSec) * time.Second
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{k.Alg}),
		jwt.WithStrictDecoding(),
		jwt.WithLeeway(skew),
		jwt.WithTimeFunc(k.clock),
	)
	var claims SessionClaims
	token, err := parser.ParseWithClaims(tok, &claims, func(t *jwt.Token) (interface{}, error) {
		return k.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	if subtle.ConstantTimeCompare([]byte(claims.Issuer), []byte(k.Issuer)) != 1 {
		return nil, ErrIssuerMismatch
	}
	if claims.ExpiresAt == nil {
		return nil, ErrExpMissing
	}
	if claims.NotBefore != nil && k.clock().Add(skew).Before(claims.NotBefore.Time) {
		return nil, ErrNbfInFuture
	}
	if claims.IssuedAt != nil {
		if claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time) > k.MaxTTL+skew {
			return nil, ErrTTLTooLarge
		}
	}
	if claims.Subject == "" {
		return nil, ErrSubjectMissing
	}
	return &claims, nil
}

func (k *Keyring) clock() time.Time {
	if k.now == nil {
		return time.Now()
	}
	return k.now()
}
