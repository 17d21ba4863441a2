package guard

import (
	"context"
	"fmt"
	"net"
	"time"

	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/ratelimit"
)

// KeyKind selects how rate-limit buckets are partitioned.
type KeyKind string

const (
	KeyGlobal KeyKind = "global"
	KeyIP     KeyKind = "ip"
	KeyUser   KeyKind = "user"
)

// Valid reports whether k is a known key kind.
func (k KeyKind) Valid() bool {
	switch k {
	case KeyGlobal, KeyIP, KeyUser:
		return true
	}
	return false
}

// RateLimit is a token-bucket guard. Keyed on global or ip it works as a
// pre-auth guard; keyed on user it needs an identity and must run post-auth.
type RateLimit struct {
	Max      int
	Window   time.Duration
	Key      KeyKind
	Registry *ratelimit.Registry
}

func (g *RateLimit) registry() *ratelimit.Registry {
	if g.Registry != nil {
		return g.Registry
	}
	return ratelimit.Default()
}

// BucketKey returns the bucket a request draws from.
func (g *RateLimit) BucketKey(gc *Context) string {
	base := "rl:" + string(g.Key) + ":" + gc.Operation()
	switch g.Key {
	case KeyIP:
		return base + ":" + clientIP(gc.RemoteAddr)
	case KeyUser:
		if gc.Identity != nil {
			return base + ":" + gc.Identity.Sub()
		}
		return base + ":"
	default:
		return base
	}
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (g *RateLimit) CheckPreAuth(ctx context.Context, gc *Context) error {
	return g.Check(ctx, gc)
}

func (g *RateLimit) Check(_ context.Context, gc *Context) error {
	if g.Key == KeyUser && gc.Identity == nil {
		return apperrors.Unauthorized("AUTHENTICATION_REQUIRED", "Authentication required").Build()
	}
	reg := g.registry()
	key := g.BucketKey(gc)
	if reg.TryAcquire(key, g.Max, g.Window) {
		return nil
	}
	return apperrors.TooManyRequests("RATE_LIMITED", "Rate limit exceeded", reg.RetryAfter(key)).
		WithOperation(gc.Operation()).
		WithDetails(fmt.Sprintf("%d requests per %s", g.Max, g.Window)).
		Build()
}
