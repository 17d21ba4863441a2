package config

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is matched by every missing-key error.
	ErrNotFound = errors.New("config key not found")
	// ErrTypeMismatch is matched by every conversion error.
	ErrTypeMismatch = errors.New("config type mismatch")
)

// NotFoundError reports a missing key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string        { return fmt.Sprintf("config key %q not found", e.Key) }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TypeMismatchError reports a value that cannot be converted to the
// requested type.
type TypeMismatchError struct {
	Key  string
	Want string
	Got  Value
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("config key %q: cannot convert %s %s to %s", e.Key, e.Got.Kind(), e.Got, e.Want)
}
func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// Get returns the value under key converted to T.
func Get[T any](s *Store, key string) (T, error) {
	var zero T
	v, ok := s.Lookup(key)
	if !ok {
		return zero, &NotFoundError{Key: canonical(key)}
	}
	out, err := Decode(v, canonical(key), reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	if out.Kind() == reflect.Interface && out.IsNil() {
		return zero, nil
	}
	return out.Interface().(T), nil
}

// GetOr returns the value under key, or def when the key is absent.
// Conversion errors are still reported.
func GetOr[T any](s *Store, key string, def T) (T, error) {
	out, err := Get[T](s, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	return out, err
}

// MustGet is Get that panics, for wiring code that has validated already.
func MustGet[T any](s *Store, key string) T {
	out, err := Get[T](s, key)
	if err != nil {
		panic(err)
	}
	return out
}

var durationType = reflect.TypeOf(time.Duration(0))

// Decode converts v into a value of type t.
func Decode(v Value, key string, t reflect.Type) (reflect.Value, error) {
	mismatch := func() (reflect.Value, error) {
		return reflect.Value{}, &TypeMismatchError{Key: key, Want: t.String(), Got: v}
	}

	if t == durationType {
		return decodeDuration(v, key, t)
	}

	switch t.Kind() {
	case reflect.Pointer:
		if v.kind == KindNull {
			return reflect.Zero(t), nil
		}
		elem, err := Decode(v, key, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil

	case reflect.Interface:
		if t.NumMethod() != 0 {
			return mismatch()
		}
		if v.kind == KindNull {
			return reflect.Zero(t), nil
		}
		return reflect.ValueOf(v.Interface()).Convert(t), nil

	case reflect.String:
		var s string
		switch v.kind {
		case KindString:
			s = v.str
		case KindInt:
			s = strconv.FormatInt(v.i, 10)
		case KindFloat:
			s = strconv.FormatFloat(v.f, 'f', -1, 64)
		case KindBool:
			s = strconv.FormatBool(v.b)
		default:
			return mismatch()
		}
		return reflect.ValueOf(s).Convert(t), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var i int64
		switch v.kind {
		case KindInt:
			i = v.i
		case KindString:
			parsed, err := strconv.ParseInt(strings.TrimSpace(v.str), 10, 64)
			if err != nil {
				return mismatch()
			}
			i = parsed
		default:
			return mismatch()
		}
		out := reflect.New(t).Elem()
		if out.OverflowInt(i) {
			return mismatch()
		}
		out.SetInt(i)
		return out, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var u uint64
		switch v.kind {
		case KindInt:
			if v.i < 0 {
				return mismatch()
			}
			u = uint64(v.i)
		case KindString:
			parsed, err := strconv.ParseUint(strings.TrimSpace(v.str), 10, 64)
			if err != nil {
				return mismatch()
			}
			u = parsed
		default:
			return mismatch()
		}
		out := reflect.New(t).Elem()
		if out.OverflowUint(u) {
			return mismatch()
		}
		out.SetUint(u)
		return out, nil

	case reflect.Float32, reflect.Float64:
		var f float64
		switch v.kind {
		case KindFloat:
			f = v.f
		case KindInt:
			f = float64(v.i)
		case KindString:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
			if err != nil {
				return mismatch()
			}
			f = parsed
		default:
			return mismatch()
		}
		out := reflect.New(t).Elem()
		if t.Kind() == reflect.Float32 && math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
			return mismatch()
		}
		out.SetFloat(f)
		return out, nil

	case reflect.Bool:
		switch v.kind {
		case KindBool:
			return reflect.ValueOf(v.b).Convert(t), nil
		case KindString:
			switch strings.ToLower(strings.TrimSpace(v.str)) {
			case "true", "1", "yes":
				return reflect.ValueOf(true).Convert(t), nil
			case "false", "0", "no":
				return reflect.ValueOf(false).Convert(t), nil
			}
		}
		return mismatch()

	case reflect.Slice:
		items := v.list
		switch v.kind {
		case KindList:
		case KindNull, KindMap:
			return mismatch()
		default:
			items = []Value{v}
		}
		out := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			elem, err := Decode(item, fmt.Sprintf("%s[%d]", key, i), t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(elem)
		}
		return out, nil

	case reflect.Map:
		if v.kind != KindMap || t.Key().Kind() != reflect.String {
			return mismatch()
		}
		out := reflect.MakeMapWithSize(t, len(v.m))
		for k, item := range v.m {
			elem, err := Decode(item, key+"."+k, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), elem)
		}
		return out, nil

	case reflect.Struct:
		if v.kind != KindMap {
			return mismatch()
		}
		return decodeStruct(v, key, t)
	}

	return mismatch()
}

func decodeDuration(v Value, key string, t reflect.Type) (reflect.Value, error) {
	switch v.kind {
	case KindInt:
		return reflect.ValueOf(time.Duration(v.i) * time.Second), nil
	case KindFloat:
		return reflect.ValueOf(time.Duration(v.f * float64(time.Second))), nil
	case KindString:
		s := strings.TrimSpace(v.str)
		if d, err := time.ParseDuration(s); err == nil {
			return reflect.ValueOf(d), nil
		}
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			return reflect.ValueOf(time.Duration(secs) * time.Second), nil
		}
	}
	return reflect.Value{}, &TypeMismatchError{Key: key, Want: t.String(), Got: v}
}

// decodeStruct fills exported fields from a map value. The field key is the
// `config` tag, or the lower-cased field name.
func decodeStruct(v Value, key string, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Tag.Get("config")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		item, ok := v.m[canonical(name)]
		if !ok {
			continue
		}
		decoded, err := Decode(item, key+"."+name, field.Type)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Field(i).Set(decoded)
	}
	return out, nil
}
