// Package managed defines scoped resources acquired before a handler runs
// and released after it, with the handler's outcome.
package managed

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
)

// Resource is acquired per request. Release receives success=false when the
// handler failed or a later acquisition failed.
type Resource interface {
	Acquire(ctx context.Context, state interface{}) (interface{}, error)
	Release(ctx context.Context, value interface{}, success bool) error
}

// Funcs adapts a pair of functions to Resource. A nil ReleaseFunc is a
// no-op.
type Funcs struct {
	AcquireFunc func(ctx context.Context, state interface{}) (interface{}, error)
	ReleaseFunc func(ctx context.Context, value interface{}, success bool) error
}

func (f Funcs) Acquire(ctx context.Context, state interface{}) (interface{}, error) {
	return f.AcquireFunc(ctx, state)
}

func (f Funcs) Release(ctx context.Context, value interface{}, success bool) error {
	if f.ReleaseFunc == nil {
		return nil
	}
	return f.ReleaseFunc(ctx, value, success)
}

// Transactional opens a *sqlx.Tx on the state's *sqlx.DB field named Pool,
// commits on success and rolls back otherwise.
type Transactional struct {
	Pool    string
	Options *sql.TxOptions
}

// Tx returns a transactional resource on the given pool field.
func Tx(pool string) *Transactional {
	return &Transactional{Pool: pool}
}

func (t *Transactional) Acquire(ctx context.Context, state interface{}) (interface{}, error) {
	db, err := PoolField(state, t.Pool)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTxx(ctx, t.Options)
	if err != nil {
		return nil, apperrors.Unavailable("TX_BEGIN_FAILED", "Database unavailable").
			WithOperation("begin transaction").
			WithCause(err).
			Build()
	}
	return tx, nil
}

func (t *Transactional) Release(_ context.Context, value interface{}, success bool) error {
	tx, ok := value.(*sqlx.Tx)
	if !ok {
		return fmt.Errorf("transactional release got %T", value)
	}
	if success {
		if err := tx.Commit(); err != nil {
			return apperrors.Internal("TX_COMMIT_FAILED", "Transaction commit failed").WithCause(err).Build()
		}
		return nil
	}
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return apperrors.Internal("TX_ROLLBACK_FAILED", "Transaction rollback failed").WithCause(err).Build()
	}
	return nil
}

var dbType = reflect.TypeOf((*sqlx.DB)(nil))

// PoolField reads the exported *sqlx.DB field name of state, which may be a
// struct or a pointer to one.
func PoolField(state interface{}, name string) (*sqlx.DB, error) {
	v := reflect.ValueOf(state)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("state is a nil %s", v.Type())
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("state %T is not a struct", state)
	}
	field := v.FieldByName(name)
	if !field.IsValid() {
		return nil, fmt.Errorf("state %T has no field %q", state, name)
	}
	if field.Type() != dbType {
		return nil, fmt.Errorf("state field %q is %s, not *sqlx.DB", name, field.Type())
	}
	db, _ := field.Interface().(*sqlx.DB)
	if db == nil {
		return nil, fmt.Errorf("state field %q is nil", name)
	}
	return db, nil
}

// CheckPool reports at mount time whether stateType has a usable pool field.
func CheckPool(stateType reflect.Type, name string) error {
	t := stateType
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("state %v is not a struct", stateType)
	}
	field, ok := t.FieldByName(name)
	if !ok || !field.IsExported() {
		return fmt.Errorf("state %v has no exported field %q", stateType, name)
	}
	if field.Type != dbType {
		return fmt.Errorf("state field %q is %s, not *sqlx.DB", name, field.Type)
	}
	return nil
}
