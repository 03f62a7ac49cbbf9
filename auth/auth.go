package auth

import (
	"context"
	"fmt"

	"github.com/dgrijalva/jwt-go"
	"go.uber.org/zap"
)

// ContextKey is a defined type to be used in context.Context containing the Claims
type ContextKey string

// Context is key used in context.Context containing the Claims
const Context ContextKey = "authContext"

// Environment is the type for defining the running environment
type Environment string

// define constants
const (
	EnvDevelopment Environment = "Dev"
	EnvProduction  Environment = "Prod"
)

// RoleAdmin is the application role allowed on admin routes
const RoleAdmin = "admin"

// Auth verifies bearer tokens issued by the identity provider
type Auth struct {
	Options
	jwtKey []byte
}

// AppMetadata is the server-controlled part of the token
type AppMetadata struct {
	Role string `json:"role"`
}

// Claims is the struct for jwt token. The caller's user id is the subject.
type Claims struct {
	jwt.StandardClaims
	Email       string      `json:"email"`
	Role        string      `json:"role"`
	AppMetadata AppMetadata `json:"app_metadata"`
}

// UserID returns the subject of the token
func (c *Claims) UserID() string {
	return c.Subject
}

// IsAdmin reports whether the token carries the admin application role
func (c *Claims) IsAdmin() bool {
	return c.AppMetadata.Role == RoleAdmin
}

// Options provides initialization parameters for Auth
type Options struct {
	Logger *zap.Logger

	JWTSigningKey string
	Audience      string // optional, checked against the aud claim when set

	Environment Environment
}

func (o *Options) validate() error {
	if o == nil {
		return fmt.Errorf("nil option is invalid")
	}
	if o.Logger == nil {
		return fmt.Errorf("nil Logger is invalid")
	}
	if len(o.JWTSigningKey) < 16 {
		return fmt.Errorf("jwt signing key must be longer than 16 characters")
	}
	if o.Environment == "" {
		o.Environment = EnvDevelopment
	}
	return nil
}

// New will return a new instance of Auth for authentication
func New(option Options) (*Auth, error) {
	if err := option.validate(); err != nil {
		return nil, err
	}
	return &Auth{
		Options: option,
		jwtKey:  []byte(option.JWTSigningKey),
	}, nil
}

// WithClaims returns a copy of ctx carrying claims
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, Context, claims)
}

// FromContext returns the Claims placed by Middleware
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(Context).(*Claims)
	return claims, ok && claims != nil
}
