package config

import (
	"fmt"
	"os"
	"strings"
)

// PlaceholderError reports a malformed ${...} expression.
type PlaceholderError struct {
	Key    string
	Value  string
	Reason string
}

func (e *PlaceholderError) Error() string {
	return fmt.Sprintf("config key %q: %s in %q", e.Key, e.Reason, e.Value)
}

// resolvePlaceholders expands ${env:NAME}, ${NAME} and ${file:PATH}.
// Unknown variables expand to the empty string.
func resolvePlaceholders(key, s string, env map[string]string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:start])

		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return "", &PlaceholderError{Key: key, Value: s, Reason: "unclosed placeholder"}
		}
		expr := strings.TrimSpace(rest[start+2 : start+end])
		rest = rest[start+end+1:]

		switch {
		case expr == "":
			return "", &PlaceholderError{Key: key, Value: s, Reason: "empty placeholder"}
		case strings.HasPrefix(expr, "env:"):
			b.WriteString(env[strings.TrimPrefix(expr, "env:")])
		case strings.HasPrefix(expr, "file:"):
			path := strings.TrimPrefix(expr, "file:")
			data, err := os.ReadFile(path)
			if err != nil {
				return "", &PlaceholderError{Key: key, Value: s, Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
			}
			b.WriteString(strings.TrimSpace(string(data)))
		default:
			b.WriteString(env[expr])
		}
	}
}

// resolveValue walks v and expands placeholders in every string.
func resolveValue(key string, v Value, env map[string]string) (Value, error) {
	switch v.kind {
	case KindString:
		s, err := resolvePlaceholders(key, v.str, env)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			resolved, err := resolveValue(fmt.Sprintf("%s[%d]", key, i), item, env)
			if err != nil {
				return Value{}, err
			}
			items[i] = resolved
		}
		return List(items...), nil
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			resolved, err := resolveValue(key+"."+k, item, env)
			if err != nil {
				return Value{}, err
			}
			m[k] = resolved
		}
		return Value{kind: KindMap, m: m}, nil
	default:
		return v, nil
	}
}
