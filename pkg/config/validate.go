package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
)

// Requirement is a configuration key declared by a bean or controller.
type Requirement struct {
	Key      string
	Type     reflect.Type
	Owner    string
	Optional bool
}

// RequirementFor builds a requirement whose type is T.
func RequirementFor[T any](owner, key string) Requirement {
	return Requirement{Key: key, Type: reflect.TypeOf((*T)(nil)).Elem(), Owner: owner}
}

// RequirementError attaches the declaring owner to a lookup failure.
type RequirementError struct {
	Owner string
	Err   error
}

func (e *RequirementError) Error() string {
	if e.Owner == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Owner, e.Err)
}

func (e *RequirementError) Unwrap() error { return e.Err }

// Check looks up a single requirement.
func (s *Store) Check(req Requirement) error {
	v, ok := s.Lookup(req.Key)
	if !ok {
		if req.Optional {
			return nil
		}
		return &RequirementError{Owner: req.Owner, Err: &NotFoundError{Key: canonical(req.Key)}}
	}
	if req.Type == nil {
		return nil
	}
	if _, err := Decode(v, canonical(req.Key), req.Type); err != nil {
		return &RequirementError{Owner: req.Owner, Err: err}
	}
	return nil
}

// Validate looks up every requirement and reports all failures at once.
func (s *Store) Validate(reqs []Requirement) error {
	collector := apperrors.NewCollector("configuration validation failed")
	for _, req := range reqs {
		collector.Add(s.Check(req))
	}
	return collector.Err()
}

// IsMissing reports whether err was caused by a missing key.
func IsMissing(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrInvalid marks a decoded value that failed its validate tags.
var ErrInvalid = errors.New("invalid configuration")

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.Split(f.Tag.Get("config"), ",")[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidateStruct checks the validate tags of a configuration struct read
// from key. Failures name the offending keys.
func ValidateStruct(key string, v interface{}) error {
	err := structValidator.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		problems = append(problems, fmt.Sprintf("%s.%s fails %q", canonical(key), field, fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

// Bind reads key into T and validates it.
func Bind[T any](s *Store, key string, def T) (T, error) {
	v, err := GetOr(s, key, def)
	if err != nil {
		return v, err
	}
	if err := ValidateStruct(key, v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
