package bean

import (
	"context"
	"errors"
	"testing"

	"github.com/Plawn/r2e-sub001/pkg/config"
	"github.com/Plawn/r2e-sub001/pkg/typelist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Pool struct{ DSN string }

type Repo struct{ Pool *Pool }

type Service struct {
	Repo *Repo
	Pool *Pool
}

type State struct{ Service *Service }

type A struct{ B *B }
type B struct{ A *A }
type C struct{ A *A }

type Greeter interface{ Greet() string }

type englishGreeter struct{ greeting string }

func (g *englishGreeter) Greet() string { return g.greeting }

type Mailer struct {
	Pool *Pool   `inject:""`
	Host string  `config:"mail.host"`
	Port int     `config:"mail.port"`
	From *string `config:"mail.from"`

	initialized bool
}

func (m *Mailer) Init(context.Context) error {
	m.initialized = true
	return nil
}

type closer struct {
	closed *[]string
	name   string
}

func (c *closer) Close() error {
	*c.closed = append(*c.closed, c.name)
	return nil
}

func TestResolveScenario(t *testing.T) {
	// Arrange
	pool := &Pool{DSN: "postgres://"}
	r := NewRegistry()
	Provide(r, pool)
	Register[*Repo](r, func(p *Pool) *Repo { return &Repo{Pool: p} })
	Register[*Service](r, func(repo *Repo, p *Pool) (*Service, error) { return &Service{Repo: repo, Pool: p}, nil })
	Register[*State](r, func(s *Service) *State { return &State{Service: s} })

	// Act
	bc, err := r.Resolve(context.Background())

	// Assert
	require.NoError(t, err)
	state := MustGet[*State](bc)
	assert.Same(t, pool, state.Service.Repo.Pool)
	assert.Same(t, pool, state.Service.Pool)
	assert.Equal(t, 4, bc.Len())
	assert.Equal(t, typelist.Of[*Pool](), bc.Fingerprints()[0])
}

func TestResolveErrors(t *testing.T) {
	t.Run("Should reject duplicate beans", func(t *testing.T) {
		r := NewRegistry()
		Provide(r, &Pool{})
		Register[*Pool](r, func() *Pool { return &Pool{} })

		_, err := r.Resolve(context.Background())
		assert.ErrorIs(t, err, ErrDuplicateBean)
	})

	t.Run("Should name missing dependencies", func(t *testing.T) {
		r := NewRegistry()
		Register[*Repo](r, func(p *Pool) *Repo { return &Repo{Pool: p} })

		_, err := r.Resolve(context.Background())
		var missing *MissingDependencyError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "*bean.Repo", missing.Bean)
		assert.Equal(t, "*bean.Pool", missing.Dependency)
	})

	t.Run("Should report every graph problem at once", func(t *testing.T) {
		r := NewRegistry()
		Provide(r, &Pool{})
		Provide(r, &Pool{})
		Register[*Repo](r, func(b *B) *Repo { return &Repo{} })
		Register[*Service](r, func(repo *Repo, c *C) *Service { return &Service{Repo: repo} })

		_, err := r.Resolve(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicateBean)
		assert.ErrorIs(t, err, ErrMissingDependency)

		var dup *DuplicateBeanError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "*bean.Pool", dup.Bean)

		msg := err.Error()
		assert.Contains(t, msg, "*bean.B")
		assert.Contains(t, msg, "*bean.C")
		assert.Contains(t, msg, "(3)")
	})

	t.Run("Should report cycles with every member", func(t *testing.T) {
		r := NewRegistry()
		Register[*A](r, func(b *B) *A { return &A{B: b} })
		Register[*B](r, func(a *A) *B { return &B{A: a} })

		_, err := r.Resolve(context.Background())
		var cyclic *CyclicDependencyError
		require.ErrorAs(t, err, &cyclic)
		assert.Equal(t, []string{"*bean.A", "*bean.B", "*bean.A"}, cyclic.Cycle)
		assert.ErrorIs(t, err, ErrCyclicDependency)
	})

	t.Run("Should only list cycle members", func(t *testing.T) {
		r := NewRegistry()
		Register[*C](r, func(a *A) *C { return &C{A: a} })
		Register[*A](r, func(b *B) *A { return &A{B: b} })
		Register[*B](r, func(a *A) *B { return &B{A: a} })

		_, err := r.Resolve(context.Background())
		var cyclic *CyclicDependencyError
		require.ErrorAs(t, err, &cyclic)
		assert.NotContains(t, cyclic.Cycle, "*bean.C")
	})

	t.Run("Should reject malformed constructors", func(t *testing.T) {
		r := NewRegistry()
		Register[*Repo](r, "not a function")
		RegisterAsync[*Repo](r, func(p *Pool) (*Repo, error) { return nil, nil })

		_, err := r.Resolve(context.Background())
		assert.ErrorIs(t, err, ErrInvalidRegistration)
	})

	t.Run("Should wrap build failures with the dependent chain", func(t *testing.T) {
		boom := errors.New("connection refused")
		r := NewRegistry()
		RegisterAsync[*Pool](r, func(ctx context.Context) (*Pool, error) { return nil, boom })
		Register[*Repo](r, func(p *Pool) *Repo { return &Repo{Pool: p} })
		Register[*Service](r, func(repo *Repo, p *Pool) *Service { return &Service{Repo: repo, Pool: p} })

		bc, err := r.Resolve(context.Background())
		assert.Nil(t, bc)
		assert.ErrorIs(t, err, boom)

		var buildErr *BuildError
		require.ErrorAs(t, err, &buildErr)
		assert.Equal(t, "*bean.Pool", buildErr.Bean)
		assert.Equal(t, []string{"*bean.Repo", "*bean.Service"}, buildErr.Chain)
	})

	t.Run("Should stop when the context is cancelled", func(t *testing.T) {
		r := NewRegistry()
		Provide(r, &Pool{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := r.Resolve(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFlavors(t *testing.T) {
	r := NewRegistry()
	Provide(r, &Pool{DSN: "db"})
	RegisterAsync[*Repo](r, func(ctx context.Context, p *Pool) (*Repo, error) { return &Repo{Pool: p}, nil })
	RegisterProducer[Greeter](r, Dependencies(typelist.Of[*Repo]()), func(ctx context.Context, bc *Context) (Greeter, error) {
		repo := MustGet[*Repo](bc)
		return &englishGreeter{greeting: "hello " + repo.Pool.DSN}, nil
	})

	bc, err := r.Resolve(context.Background())
	require.NoError(t, err)

	greeter, err := Get[Greeter](bc)
	require.NoError(t, err)
	assert.Equal(t, "hello db", greeter.Greet())

	descriptors := r.Descriptors()
	assert.Equal(t, FlavorProvided, descriptors[0].Flavor)
	assert.Equal(t, FlavorAsync, descriptors[1].Flavor)
	assert.Equal(t, FlavorProducer, descriptors[2].Flavor)

	_, err = Get[*Service](bc)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterStruct(t *testing.T) {
	t.Run("Should inject beans and configuration", func(t *testing.T) {
		store := config.FromMap(map[string]interface{}{"mail": map[string]interface{}{"host": "smtp", "port": "25"}})
		r := NewRegistry()
		Provide(r, store)
		Provide(r, &Pool{})
		RegisterStruct[*Mailer](r)

		bc, err := r.Resolve(context.Background())
		require.NoError(t, err)

		mailer := MustGet[*Mailer](bc)
		assert.Equal(t, "smtp", mailer.Host)
		assert.Equal(t, 25, mailer.Port)
		assert.Nil(t, mailer.From)
		assert.NotNil(t, mailer.Pool)
		assert.True(t, mailer.initialized)
	})

	t.Run("Should aggregate configuration failures before construction", func(t *testing.T) {
		r := NewRegistry()
		Provide(r, config.FromMap(map[string]interface{}{"mail": map[string]interface{}{"port": "abc"}}))
		Provide(r, &Pool{})
		RegisterStruct[*Mailer](r)

		_, err := r.Resolve(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrNotFound)
		assert.ErrorIs(t, err, config.ErrTypeMismatch)
		assert.Contains(t, err.Error(), "mail.host")
		assert.Contains(t, err.Error(), "mail.port")
	})

	t.Run("Should validate keys declared on constructors", func(t *testing.T) {
		r := NewRegistry()
		Provide(r, config.New())
		Register[*Pool](r, func() *Pool { return &Pool{} }, WithConfigKeys(config.RequirementFor[string]("", "db.dsn")))

		_, err := r.Resolve(context.Background())
		assert.ErrorIs(t, err, config.ErrNotFound)
		assert.Contains(t, err.Error(), "*bean.Pool")
	})
}

func TestMaterialize(t *testing.T) {
	type AppState struct {
		Pool    *Pool
		Repo    *Repo
		Ignored string `bean:"-"`
	}

	r := NewRegistry()
	Provide(r, &Pool{DSN: "x"})
	Register[*Repo](r, func(p *Pool) *Repo { return &Repo{Pool: p} })
	bc, err := r.Resolve(context.Background())
	require.NoError(t, err)

	state, err := Materialize[AppState](bc)
	require.NoError(t, err)
	assert.Same(t, state.Pool, state.Repo.Pool)

	type Broken struct{ Service *Service }
	_, err = Materialize[Broken](bc)
	var fieldErr *StateFieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "Service", fieldErr.Field)
}

func TestContextClose(t *testing.T) {
	var closed []string
	type first struct{ *closer }

	r := NewRegistry()
	Provide(r, &closer{closed: &closed, name: "first"})
	Register[first](r, func(c *closer) first { return first{&closer{closed: &closed, name: "second"}} })

	bc, err := r.Resolve(context.Background())
	require.NoError(t, err)
	require.NoError(t, bc.Close(context.Background()))
	assert.Equal(t, []string{"second", "first"}, closed)
}
