// Package identity defines the authenticated principal seen by guards and
// handlers, and the extractors that turn an Authorization header into one.
package identity

import (
	"context"
	"sort"
)

// Identity is an authenticated principal.
type Identity interface {
	Sub() string
	Roles() []string
	Email() (string, bool)
	Claims() map[string]interface{}
}

// None is the sentinel "no identity": empty subject and no roles.
var None Identity = noIdentity{}

type noIdentity struct{}

func (noIdentity) Sub() string                    { return "" }
func (noIdentity) Roles() []string                { return nil }
func (noIdentity) Email() (string, bool)          { return "", false }
func (noIdentity) Claims() map[string]interface{} { return nil }

// IsNone reports whether id is absent or the None sentinel.
func IsNone(id Identity) bool {
	return id == nil || id == None
}

// User is the default Identity built from token claims.
type User struct {
	Subject   string                 `json:"sub"`
	EmailAddr string                 `json:"email,omitempty"`
	RoleNames []string               `json:"roles"`
	Raw       map[string]interface{} `json:"claims,omitempty"`
}

func (u *User) Sub() string     { return u.Subject }
func (u *User) Roles() []string { return u.RoleNames }

func (u *User) Email() (string, bool) {
	return u.EmailAddr, u.EmailAddr != ""
}

func (u *User) Claims() map[string]interface{} { return u.Raw }

// HasRole reports whether u carries role.
func (u *User) HasRole(role string) bool {
	return HasAnyRole(u, role)
}

// UserFromClaims maps standard claims to a User. Roles come from the
// top-level "roles" claim, falling back to Keycloak's realm_access.roles.
func UserFromClaims(claims map[string]interface{}) *User {
	u := &User{Raw: claims}
	if sub, ok := claims["sub"].(string); ok {
		u.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		u.EmailAddr = email
	}
	u.RoleNames = stringList(claims["roles"])
	if len(u.RoleNames) == 0 {
		if realm, ok := claims["realm_access"].(map[string]interface{}); ok {
			u.RoleNames = stringList(realm["roles"])
		}
	}
	return u
}

func stringList(v interface{}) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	}
	return nil
}

// HasAnyRole reports whether id's role set intersects required.
func HasAnyRole(id Identity, required ...string) bool {
	if IsNone(id) {
		return false
	}
	held := make(map[string]struct{}, len(id.Roles()))
	for _, r := range id.Roles() {
		held[r] = struct{}{}
	}
	for _, r := range required {
		if _, ok := held[r]; ok {
			return true
		}
	}
	return false
}

// SortedRoles returns a sorted copy of id's roles.
func SortedRoles(id Identity) []string {
	roles := append([]string(nil), id.Roles()...)
	sort.Strings(roles)
	return roles
}

type contextKey struct {
	name string
}

var identityKey = &contextKey{"identity"}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity stored by the pipeline, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || IsNone(id) {
		return nil, false
	}
	return id, true
}
