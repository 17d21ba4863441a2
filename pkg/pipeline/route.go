// Package pipeline turns a route declaration into an http.Handler that runs,
// in order: pre-auth guards, identity extraction, controller construction,
// post-auth guards, managed-resource acquisition, the interceptor chain
// around the handler, and managed-resource release.
package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/Plawn/r2e-sub001/pkg/cache"
	"github.com/Plawn/r2e-sub001/pkg/guard"
	"github.com/Plawn/r2e-sub001/pkg/interceptor"
	"github.com/Plawn/r2e-sub001/pkg/managed"
)

// IdentityMode says whether a route extracts an identity.
type IdentityMode int

const (
	IdentityNone IdentityMode = iota
	IdentityRequired
	IdentityOptional
)

func (m IdentityMode) String() string {
	switch m {
	case IdentityRequired:
		return "required"
	case IdentityOptional:
		return "optional"
	default:
		return "none"
	}
}

// TxName is the managed binding name used by Transactional.
const TxName = "tx"

// ManagedBinding is a named managed resource of a route.
type ManagedBinding struct {
	Name     string
	Resource managed.Resource
}

// RateLimit declares a token bucket on a route.
type RateLimit struct {
	Max    int
	Window time.Duration
	Key    guard.KeyKind
}

// RouteSpec is the declaration of one route.
type RouteSpec struct {
	Method      string
	Path        string
	OperationID string
	Controller  string
	Handler     string

	// StructIdentity comes from the controller's identity field,
	// ParamIdentity from route decorators. At most one may be set.
	StructIdentity IdentityMode
	ParamIdentity  IdentityMode

	PreGuards    []guard.PreAuthGuard
	Guards       []guard.Guard
	Interceptors []interceptor.Interceptor
	Middleware   []func(http.Handler) http.Handler
	Managed      []ManagedBinding

	Roles         []string
	RateLimits    []RateLimit
	Transactional string
	Timeout       time.Duration
	ResultType    reflect.Type

	// Decorators summarizes the applied decorators for metadata.
	Decorators []string
}

// Identity returns the effective identity mode.
func (s *RouteSpec) Identity() IdentityMode {
	if s.ParamIdentity != IdentityNone {
		return s.ParamIdentity
	}
	return s.StructIdentity
}

// Operation returns "Controller.handler".
func (s *RouteSpec) Operation() string {
	return s.Controller + "." + s.Handler
}

// Validate reports declaration errors.
func (s *RouteSpec) Validate() error {
	var errs []error
	if s.Method == "" || s.Path == "" {
		errs = append(errs, errors.New("method and path are required"))
	}
	if !strings.HasPrefix(s.Path, "/") {
		errs = append(errs, fmt.Errorf("path %q must start with /", s.Path))
	}
	if s.StructIdentity != IdentityNone && s.ParamIdentity != IdentityNone {
		errs = append(errs, errors.New("identity declared on both the controller and the route"))
	}
	if s.Transactional != "" {
		for _, m := range s.Managed {
			if m.Name != TxName {
				continue
			}
			if _, ok := m.Resource.(*managed.Transactional); !ok {
				errs = append(errs, errors.New("transactional and a managed resource named \"tx\" are exclusive"))
			}
		}
	}
	seen := make(map[string]bool, len(s.Managed))
	for _, m := range s.Managed {
		if seen[m.Name] {
			errs = append(errs, fmt.Errorf("managed resource %q declared twice", m.Name))
		}
		seen[m.Name] = true
	}
	for _, rl := range s.RateLimits {
		if !rl.Key.Valid() {
			errs = append(errs, fmt.Errorf("rate limit key %q is not one of global, ip, user", rl.Key))
		}
		if rl.Max < 1 || rl.Window <= 0 {
			errs = append(errs, fmt.Errorf("rate limit needs max >= 1 and a positive window"))
		}
		if rl.Key == guard.KeyUser && s.Identity() == IdentityNone {
			errs = append(errs, errors.New("user rate limit requires an identity"))
		}
	}
	if len(s.Roles) > 0 && s.Identity() == IdentityNone {
		errs = append(errs, errors.New("roles require an identity"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("route %s %s (%s): %w", s.Method, s.Path, s.Operation(), errors.Join(errs...))
}

// Decorator contributes to a route declaration.
type Decorator func(*RouteSpec)

func (s *RouteSpec) note(format string, args ...interface{}) {
	s.Decorators = append(s.Decorators, fmt.Sprintf(format, args...))
}

// Apply runs decorators on s in order.
func (s *RouteSpec) Apply(decorators ...Decorator) {
	for _, d := range decorators {
		d(s)
	}
}

// Roles requires any of the given roles. It runs before every declared
// guard.
func Roles(roles ...string) Decorator {
	return func(s *RouteSpec) {
		s.Roles = append(s.Roles, roles...)
		s.note("roles(%s)", strings.Join(roles, ","))
	}
}

// Guard appends a post-auth guard.
func Guard(g guard.Guard) Decorator {
	return func(s *RouteSpec) {
		s.Guards = append(s.Guards, g)
		s.note("guard(%T)", g)
	}
}

// PreGuard appends a pre-auth guard.
func PreGuard(g guard.PreAuthGuard) Decorator {
	return func(s *RouteSpec) {
		s.PreGuards = append(s.PreGuards, g)
		s.note("pre_guard(%T)", g)
	}
}

// Intercept appends interceptors; earlier ones wrap later ones.
func Intercept(interceptors ...interceptor.Interceptor) Decorator {
	return func(s *RouteSpec) {
		s.Interceptors = append(s.Interceptors, interceptors...)
		for _, i := range interceptors {
			s.note("intercept(%T)", i)
		}
	}
}

// Middleware wraps the assembled route handler with plain HTTP middleware.
func Middleware(mw ...func(http.Handler) http.Handler) Decorator {
	return func(s *RouteSpec) {
		s.Middleware = append(s.Middleware, mw...)
		s.note("middleware(%d)", len(mw))
	}
}

// Managed binds a resource acquired before the handler under name.
func Managed(name string, r managed.Resource) Decorator {
	return func(s *RouteSpec) {
		s.Managed = append(s.Managed, ManagedBinding{Name: name, Resource: r})
		s.note("managed(%s)", name)
	}
}

// Transactional runs the handler inside a transaction on the state's
// *sqlx.DB field named pool, bound as "tx".
func Transactional(pool string) Decorator {
	return func(s *RouteSpec) {
		s.Transactional = pool
		s.Managed = append(s.Managed, ManagedBinding{Name: TxName, Resource: managed.Tx(pool)})
		s.note("transactional(%s)", pool)
	}
}

// RateLimited adds a token bucket. Global and ip keys run before identity
// extraction, user keys after it.
func RateLimited(rl RateLimit) Decorator {
	return func(s *RouteSpec) {
		s.RateLimits = append(s.RateLimits, rl)
		g := &guard.RateLimit{Max: rl.Max, Window: rl.Window, Key: rl.Key}
		switch rl.Key {
		case guard.KeyGlobal, guard.KeyIP:
			s.PreGuards = append(s.PreGuards, g)
		case guard.KeyUser:
			s.Guards = append(s.Guards, g)
		}
		s.note("rate_limited(%d/%s,%s)", rl.Max, rl.Window, rl.Key)
	}
}

// OperationID overrides the generated operation id.
func OperationID(id string) Decorator {
	return func(s *RouteSpec) { s.OperationID = id }
}

// RequireIdentity makes the route extract a mandatory identity.
func RequireIdentity() Decorator {
	return func(s *RouteSpec) {
		s.ParamIdentity = IdentityRequired
		s.note("identity")
	}
}

// OptionalIdentity extracts an identity when an Authorization header is
// present.
func OptionalIdentity() Decorator {
	return func(s *RouteSpec) {
		s.ParamIdentity = IdentityOptional
		s.note("identity(optional)")
	}
}

// Timeout bounds the handler; an expired deadline answers 408.
func Timeout(d time.Duration) Decorator {
	return func(s *RouteSpec) {
		s.Timeout = d
		s.note("timeout(%s)", d)
	}
}

// Cached serves results from the cache store for ttl under group.
func Cached(group string, ttl time.Duration, opts ...cache.Option) Decorator {
	return func(s *RouteSpec) {
		s.Interceptors = append(s.Interceptors, cache.Cached(group, ttl, opts...))
		s.note("cached(%s,%s)", group, ttl)
	}
}

// InvalidateCache clears group after the handler succeeds.
func InvalidateCache(group string, opts ...cache.Option) Decorator {
	return func(s *RouteSpec) {
		s.Interceptors = append(s.Interceptors, cache.Invalidate(group, opts...))
		s.note("cache_invalidate(%s)", group)
	}
}
