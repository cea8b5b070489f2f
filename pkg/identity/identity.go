// Package identity resolves the caller of an API request.
//
// Users are not managed here: the Static resolver checks credentials
// against a list of users provided by configuration.
package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/oneconcern/volsync/pkg/core/status"
	"github.com/oneconcern/volsync/pkg/model"
	"golang.org/x/crypto/bcrypt"
)

// plainPrefix marks a password stored in clear, for development setups
const plainPrefix = "plain:"

// Caller is an authenticated user. It is the author of the revisions it writes.
type Caller struct {
	Name  string
	Email string
}

// Contributor to record as the author of a revision
func (c Caller) Contributor() model.Contributor {
	return model.Contributor{Name: c.Name, Email: c.Email}
}

// Resolver knows how to identify the caller of a request
type Resolver interface {
	Resolve(*http.Request) (Caller, error)
}

// User known to the Static resolver.
//
// Password is either a bcrypt hash or a clear password prefixed with "plain:".
type User struct {
	Name     string `json:"name" yaml:"name" mapstructure:"name"`
	Email    string `json:"email" yaml:"email" mapstructure:"email"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
}

// Static resolves callers using HTTP basic auth against a fixed list of users
type Static struct {
	users map[string]User
}

// NewStatic builds a resolver for some users
func NewStatic(users []User) *Static {
	s := &Static{users: make(map[string]User, len(users))}
	for _, u := range users {
		if u.Name == "" {
			continue
		}
		s.users[u.Name] = u
	}
	return s
}

// Resolve the caller from the basic auth credentials of a request
func (s *Static) Resolve(r *http.Request) (Caller, error) {
	name, password, ok := r.BasicAuth()
	if !ok {
		return Caller{}, status.ErrUnauthorized.WrapMessage("missing credentials")
	}
	user, found := s.users[name]
	if !found || !matches(user.Password, password) {
		return Caller{}, status.ErrUnauthorized.WrapMessage("invalid credentials for %q", name)
	}
	return Caller{Name: user.Name, Email: user.Email}, nil
}

func matches(stored, password string) bool {
	if strings.HasPrefix(stored, plainPrefix) {
		return stored[len(plainPrefix):] == password
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

type callerKey struct{}

// WithCaller returns a context carrying the caller
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// FromContext returns the caller carried by a context
func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
