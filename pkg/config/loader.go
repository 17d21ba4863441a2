package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// FILE LOADERS
// ============================================================================

// FileLoader decodes one configuration file format.
type FileLoader interface {
	Load(reader io.Reader, target interface{}) error
	Extension() string
}

// YAMLLoader loads YAML configuration files.
type YAMLLoader struct{}

func (YAMLLoader) Load(reader io.Reader, target interface{}) error {
	err := yaml.NewDecoder(reader).Decode(target)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
func (YAMLLoader) Extension() string { return ".yaml" }

// YMLLoader is YAMLLoader under the short extension.
type YMLLoader struct{ YAMLLoader }

func (YMLLoader) Extension() string { return ".yml" }

// JSONLoader loads JSON configuration files.
type JSONLoader struct{}

func (JSONLoader) Load(reader io.Reader, target interface{}) error {
	decoder := json.NewDecoder(reader)
	decoder.UseNumber()
	err := decoder.Decode(target)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
func (JSONLoader) Extension() string { return ".json" }

// TOMLLoader loads TOML configuration files.
type TOMLLoader struct{}

func (TOMLLoader) Load(reader io.Reader, target interface{}) error {
	return toml.NewDecoder(reader).Decode(target)
}
func (TOMLLoader) Extension() string { return ".toml" }

// ============================================================================
// LOADER
// ============================================================================

// ProfileEnvVar selects the active profile when Options.Profile is empty.
const ProfileEnvVar = "R2E_PROFILE"

// Options controls where configuration is read from.
type Options struct {
	// Dir holds application.* and .env files. Defaults to ".".
	Dir string
	// Name is the base file name. Defaults to "application".
	Name string
	// Profile selects application-<profile>.* and .env.<profile>.
	Profile string
	// Environ returns the process environment. Defaults to os.Environ.
	Environ func() []string
	// ExportDotenv also sets .env values in the process environment
	// (never overwriting variables that are already set).
	ExportDotenv bool
	// SkipEnvironment disables the environment override layer.
	SkipEnvironment bool
}

func (o Options) withDefaults() Options {
	if o.Dir == "" {
		o.Dir = "."
	}
	if o.Name == "" {
		o.Name = "application"
	}
	if o.Environ == nil {
		o.Environ = os.Environ
	}
	return o
}

// Loader reads layered configuration into a Store.
type Loader struct {
	opts        Options
	fileLoaders []FileLoader
}

// NewLoader creates a loader with the YAML, JSON and TOML formats registered
// in lookup order.
func NewLoader(opts Options) *Loader {
	return &Loader{
		opts:        opts.withDefaults(),
		fileLoaders: []FileLoader{YAMLLoader{}, YMLLoader{}, JSONLoader{}, TOMLLoader{}},
	}
}

// RegisterLoader adds a file format, tried after the built-in ones.
func (l *Loader) RegisterLoader(loader FileLoader) {
	l.fileLoaders = append(l.fileLoaders, loader)
}

// Load reads configuration with strictly increasing precedence:
//  1. application.{yaml,yml,json,toml}
//  2. application-<profile>.{yaml,yml,json,toml}
//  3. .env.<profile> then .env (never overriding real environment variables)
//  4. process environment (A_B_C overrides a.b.c)
func Load(opts Options) (*Store, error) {
	return NewLoader(opts).Load()
}

// Load runs the layered load.
func (l *Loader) Load() (*Store, error) {
	store := New()
	processEnv := parseEnviron(l.opts.Environ())

	if err := l.loadFiles(store, l.opts.Name); err != nil {
		return nil, err
	}

	profile := l.opts.Profile
	if profile == "" {
		profile = processEnv[ProfileEnvVar]
	}
	if profile == "" {
		profile, _ = GetOr(store, "r2e.profile", "")
	}
	if profile != "" {
		if err := l.loadFiles(store, l.opts.Name+"-"+profile); err != nil {
			return nil, err
		}
		store.SetValue("r2e.profile", String(profile))
	}

	dotenv, err := l.loadDotenv(profile)
	if err != nil {
		return nil, err
	}

	// Effective environment: .env values, overridden by the real environment.
	env := make(map[string]string, len(dotenv)+len(processEnv))
	for k, v := range dotenv {
		env[k] = v
	}
	for k, v := range processEnv {
		env[k] = v
	}

	// Placeholders are resolved in file-sourced values only.
	for _, key := range store.Keys() {
		v, _ := store.Lookup(key)
		resolved, err := resolveValue(key, v, env)
		if err != nil {
			return nil, err
		}
		store.values[key] = resolved
	}

	if !l.opts.SkipEnvironment {
		for name, value := range env {
			store.values[EnvKey(name)] = String(value)
		}
		store.sources = append(store.sources, "environment")
	}
	store.version.Add(1)

	return store, nil
}

// EnvKey maps an environment variable name to a config key: A_B_C → a.b.c.
func EnvKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

// EnvName maps a config key to the environment variable that overrides it.
func EnvName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(canonical(key), ".", "_"))
}

func (l *Loader) loadFiles(store *Store, base string) error {
	for _, loader := range l.fileLoaders {
		path := filepath.Join(l.opts.Dir, base+loader.Extension())
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to open config file %s: %w", path, err)
		}

		var raw map[string]interface{}
		err = loader.Load(f, &raw)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}

		value := FromAny(normalizeJSONNumbers(raw))
		flattenInto(store.values, "", value)
		store.sources = append(store.sources, path)
	}
	store.version.Add(1)
	return nil
}

func (l *Loader) loadDotenv(profile string) (map[string]string, error) {
	var files []string
	if profile != "" {
		files = append(files, filepath.Join(l.opts.Dir, ".env."+profile))
	}
	files = append(files, filepath.Join(l.opts.Dir, ".env"))

	out := map[string]string{}
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		values, err := godotenv.Read(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		// Earlier files win: .env.<profile> overrides .env.
		for k, v := range values {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
		if l.opts.ExportDotenv {
			if err := godotenv.Load(file); err != nil {
				return nil, fmt.Errorf("failed to export %s: %w", file, err)
			}
		}
	}
	return out, nil
}

func parseEnviron(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i > 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}

// normalizeJSONNumbers turns json.Number into int64 or float64.
func normalizeJSONNumbers(in interface{}) interface{} {
	switch x := in.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]interface{}:
		for k, v := range x {
			x[k] = normalizeJSONNumbers(v)
		}
		return x
	case []interface{}:
		for i, v := range x {
			x[i] = normalizeJSONNumbers(v)
		}
		return x
	default:
		return in
	}
}
