package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"reflect"
	"sort"
	"strings"
)

// Cacheable results choose their own encoding. Returning false skips the
// store for that value.
type Cacheable interface {
	ToCache() ([]byte, bool)
}

// Restorer is implemented by pointer types that decode themselves from a
// cached encoding. Returning false marks the entry stale.
type Restorer interface {
	FromCache(data []byte) bool
}

var restorerType = reflect.TypeOf((*Restorer)(nil)).Elem()

// Encode serializes a handler result. Cacheable values encode themselves;
// anything else is JSON. Nil results are never cached.
func Encode(v interface{}) ([]byte, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil, false
	}
	if c, ok := v.(Cacheable); ok {
		return c.ToCache()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Decode rebuilds a value of type t from data. A nil t decodes generic JSON.
func Decode(data []byte, t reflect.Type) (interface{}, bool) {
	if t == nil {
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, false
		}
		return v, true
	}

	if t.Kind() == reflect.Ptr && t.Implements(restorerType) {
		target := reflect.New(t.Elem())
		if !target.Interface().(Restorer).FromCache(data) {
			return nil, false
		}
		return target.Interface(), true
	}
	if reflect.PtrTo(t).Implements(restorerType) {
		target := reflect.New(t)
		if !target.Interface().(Restorer).FromCache(data) {
			return nil, false
		}
		return target.Elem().Interface(), true
	}

	target := reflect.New(t)
	if err := json.Unmarshal(data, target.Interface()); err != nil {
		return nil, false
	}
	return target.Elem().Interface(), true
}

// Key builds "<group>:<signature>:<digest>" so that a "<group>:" prefix
// covers every variant of the group.
func Key(group, signature, digest string) string {
	return group + ":" + signature + ":" + digest
}

// Digest hashes path parameters and query values in a stable order.
func Digest(params map[string]string, query url.Values) string {
	var b strings.Builder

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString("p:")
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[name]))
		b.WriteByte('&')
	}
	// url.Values.Encode sorts by key.
	b.WriteString("q:")
	b.WriteString(query.Encode())

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}
