// Package config loads service configuration from struct tag defaults, an
// optional YAML or JSON file and environment variables, in that order of
// increasing priority.
//
// Struct tags:
//
//   - `env:"NAME"` binds a field to the environment variable NAME. On a
//     nested struct the tag becomes a prefix for the struct's fields.
//   - `envDefault:"value"` is applied when the field is still zero.
//   - `required:"true"` fails loading when the field is zero at the end.
//
// File loading goes through the `yaml` or `json` tags, so fields that
// should be file-configurable carry those as well.
//
//	type GatewayConfig struct {
//	    HTTPAddr string      `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080" yaml:"http_addr"`
//	    Auth     auth.Config `env:"AUTH" yaml:"auth"`
//	}
//
//	cfg := config.MustLoad[GatewayConfig](
//	    config.New().WithEnvPrefix("AUTHGATE").WithFile("authgate.yaml"),
//	)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

var durationType = reflect.TypeOf(time.Duration(0))

// LookupFunc resolves an environment variable. It has the signature of
// os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Loader resolves configuration for one Load call. It is not safe for
// concurrent use.
type Loader struct {
	envPrefix string
	filePath  string
	lookup    LookupFunc
}

// New returns a Loader that reads the process environment with no prefix
// and no file.
func New() *Loader {
	return &Loader{lookup: os.LookupEnv}
}

// WithEnvPrefix prepends PREFIX_ to every environment variable name. The
// prefix is uppercased.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets an optional .yaml, .yml or .json file. A missing file is
// not an error; a path containing ".." is.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// WithLookup replaces the environment source, mainly so tests can run in
// parallel without touching the process environment.
func (l *Loader) WithLookup(fn LookupFunc) *Loader {
	if fn != nil {
		l.lookup = fn
	}
	return l
}

// Load fills cfg, which must be a non-nil pointer to a struct, then checks
// required fields and calls cfg's Validate method when it implements
// [Validator].
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()

	if err := walk(rv, "", "", applyDefault); err != nil {
		return err
	}
	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}
	if err := walk(rv, l.envPrefix, "", l.applyEnv); err != nil {
		return err
	}
	if err := walk(rv, "", "", checkRequired); err != nil {
		return err
	}
	return runValidator(cfg)
}

// MustLoad loads a T or panics. Intended for main packages where a bad
// configuration must stop startup.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return sserr.New(sserr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	var unmarshal func([]byte, any) error
	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	case ".json":
		unmarshal = json.Unmarshal
	default:
		return sserr.Newf(sserr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}
	if err := unmarshal(data, cfg); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to parse file %q", l.filePath)
	}
	return nil
}

// field is one settable leaf visited by walk.
type field struct {
	value  reflect.Value
	tag    reflect.StructTag
	path   string // dotted Go field path, e.g. "Auth.KeySetTTL"
	envKey string // fully prefixed variable name, "" when untagged
}

// walk visits every settable leaf of rv depth-first. Nested structs other
// than time.Duration extend both the Go path and, when tagged, the env
// prefix.
func walk(rv reflect.Value, prefix, path string, visit func(field) error) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		fv := rv.Field(i)
		sf := rt.Field(i)
		if !fv.CanSet() {
			continue
		}

		fieldPath := joinNonEmpty(path, sf.Name, ".")
		envTag := sf.Tag.Get("env")

		if fv.Kind() == reflect.Struct && sf.Type != durationType {
			nested := prefix
			if envTag != "" {
				nested = joinNonEmpty(prefix, envTag, "_")
			}
			if err := walk(fv, nested, fieldPath, visit); err != nil {
				return err
			}
			continue
		}

		f := field{value: fv, tag: sf.Tag, path: fieldPath}
		if envTag != "" {
			f.envKey = joinNonEmpty(prefix, envTag, "_")
		}
		if err := visit(f); err != nil {
			return err
		}
	}
	return nil
}

func joinNonEmpty(a, b, sep string) string {
	if a == "" {
		return b
	}
	return a + sep + b
}

func applyDefault(f field) error {
	def := f.tag.Get("envDefault")
	if def == "" || !f.value.IsZero() {
		return nil
	}
	if err := setField(f.value, def); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to apply default for field %q", f.path)
	}
	return nil
}

func (l *Loader) applyEnv(f field) error {
	if f.envKey == "" {
		return nil
	}
	val, ok := l.lookup(f.envKey)
	if !ok {
		return nil
	}
	if err := setField(f.value, val); err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"config: failed to set field %q from env var %q", f.path, f.envKey)
	}
	return nil
}

// setField parses value into a string-, bool-, integer-, duration- or
// []string-kinded field. Named types (such as auth.Secret) are set through
// their underlying kind.
func setField(fv reflect.Value, value string) error {
	if fv.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, fv.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		fv.SetInt(n)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", fv.Type().Elem().Kind())
		}
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		slice := reflect.MakeSlice(fv.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(p)
		}
		fv.Set(slice)
	default:
		return fmt.Errorf("unsupported field type %s", fv.Kind())
	}
	return nil
}
