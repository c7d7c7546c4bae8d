package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSettings matches every *ValidationError via errors.Is.
var ErrInvalidSettings = errors.New("invalid settings")

var errEmptyValue = errors.New("empty value")

// ValidationError reports a value that could not be coerced to, or does not
// satisfy, the declared type of a settings field.
type ValidationError struct {
	// Field is the Go field name, e.g. "Port".
	Field string
	// Key is the environment variable, flag or rule that supplied Value.
	Key   string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value %q for %s (%s): %v", e.Value, e.Key, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is reports ErrInvalidSettings so callers need not know the concrete type.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidSettings
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(sf reflect.StructField) string {
		if key := envKey(sf); key != "" {
			return key
		}
		return sf.Name
	})
	return v
}

// validateSettings returns the first rule violation as a *ValidationError.
func validateSettings(cfg Settings) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		return &ValidationError{
			Field: fe.StructField(),
			Key:   fe.Field(),
			Value: fmt.Sprint(fe.Value()),
			Err:   fmt.Errorf("failed rule %q", rule),
		}
	}
	return fmt.Errorf("validate settings: %w", err)
}

// envError converts a caarlos0/env failure into a *ValidationError naming the
// offending variable.
func envError(err error, environ map[string]string) error {
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return fmt.Errorf("parse environment: %w", err)
	}

	for _, inner := range agg.Errors {
		var parseErr env.ParseError
		if errors.As(inner, &parseErr) {
			key := envKeyForField(reflect.TypeOf(Settings{}), parseErr.Name)
			return &ValidationError{
				Field: parseErr.Name,
				Key:   key,
				Value: environ[key],
				Err:   parseErr.Err,
			}
		}
	}
	return fmt.Errorf("parse environment: %w", err)
}

// envKeyForField walks t and its nested structs for the env tag of the named field.
func envKeyForField(t reflect.Type, name string) string {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Name == name {
			if key := envKey(sf); key != "" {
				return key
			}
		}
		if sf.Type.Kind() == reflect.Struct {
			if key := envKeyForField(sf.Type, name); key != "" {
				return key
			}
		}
	}
	return ""
}

func envKey(sf reflect.StructField) string {
	key, _, _ := strings.Cut(sf.Tag.Get("env"), ",")
	return key
}

var yamlCoercionLine = regexp.MustCompile(`^line (\d+): cannot unmarshal`)

// yamlTypeError maps the first coercion failure in typeErr to a
// *ValidationError keyed by the dotted YAML path. Other decode failures,
// such as unknown keys, yield nil.
func yamlTypeError(typeErr *yaml.TypeError, data []byte) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil
	}

	for _, msg := range typeErr.Errors {
		m := yamlCoercionLine.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		line, _ := strconv.Atoi(m[1])
		path, node := yamlValueAtLine(&root, line, nil)
		if node == nil {
			continue
		}
		return &ValidationError{
			Field: yamlFieldName(reflect.TypeOf(Settings{}), path),
			Key:   strings.Join(path, "."),
			Value: node.Value,
			Err:   errors.New(msg),
		}
	}
	return nil
}

// yamlValueAtLine finds the scalar mapping value on line and returns its key path.
func yamlValueAtLine(n *yaml.Node, line int, path []string) ([]string, *yaml.Node) {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			if p, v := yamlValueAtLine(c, line, path); v != nil {
				return p, v
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			keyPath := append(append([]string(nil), path...), key.Value)
			if val.Kind == yaml.ScalarNode && val.Line == line {
				return keyPath, val
			}
			if p, v := yamlValueAtLine(val, line, keyPath); v != nil {
				return p, v
			}
		}
	}
	return nil, nil
}

// yamlFieldName resolves a YAML key path to the Go field name it decodes into.
func yamlFieldName(t reflect.Type, path []string) string {
	if len(path) == 0 {
		return ""
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, _, _ := strings.Cut(sf.Tag.Get("yaml"), ",")
		if name != path[0] {
			continue
		}
		if len(path) == 1 {
			return sf.Name
		}
		if sf.Type.Kind() == reflect.Struct {
			return yamlFieldName(sf.Type, path[1:])
		}
	}
	return ""
}
