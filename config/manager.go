package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/ini.v1"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Manager manages application configuration
type Manager struct {
	values map[string]interface{}
	mu     sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{
		values: make(map[string]interface{}),
	}
}

// Set sets a configuration value
func (m *Manager) Set(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
}

// Get gets a configuration value
func (m *Manager) Get(key string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.values[key]
	return value, exists
}

// LoadFromEnv loads configuration from environment variables.
// PREFIX_STATIC_DIR becomes the key "static_dir".
func (m *Manager) LoadFromEnv(prefix string) {
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}

		// Check if key has the prefix
		if prefix != "" {
			if !strings.HasPrefix(key, prefix+"_") {
				continue
			}
			key = strings.TrimPrefix(key, prefix+"_")
		}

		m.Set(strings.ToLower(key), value)
	}
}

// LoadFile loads a .json file with LoadFromJSON and anything else as INI
func (m *Manager) LoadFile(filename string) error {
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		return m.LoadFromJSON(filename)
	}
	return m.LoadFromINI(filename)
}

// LoadFromINI loads key=value lines. Repeated keys keep every value, so
//
//	backend=10.0.0.1:8002
//	backend=10.0.0.2:8002
//
// yields a two element list. Keys inside a [section] are stored as
// "section.key".
func (m *Manager) LoadFromINI(filename string) error {
	f, err := ini.ShadowLoad(filename)
	if err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}

	for _, sec := range f.Sections() {
		prefix := ""
		if sec.Name() != ini.DefaultSection {
			prefix = sec.Name() + "."
		}
		for _, k := range sec.Keys() {
			vals := k.ValueWithShadows()
			if len(vals) > 1 {
				m.Set(prefix+k.Name(), vals)
			} else {
				m.Set(prefix+k.Name(), k.Value())
			}
		}
	}
	return nil
}

// LoadFromJSON loads configuration from JSON file
func (m *Manager) LoadFromJSON(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var values map[string]interface{}
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse JSON config: %w", err)
	}

	m.loadFromMap("", values)
	return nil
}

// loadFromMap recursively loads configuration from a map
func (m *Manager) loadFromMap(prefix string, values map[string]interface{}) {
	for key, value := range values {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		// If value is a map, recurse
		if nested, ok := value.(map[string]interface{}); ok {
			m.loadFromMap(fullKey, nested)
		} else {
			m.Set(fullKey, value)
		}
	}
}

// Unmarshal unmarshals configuration into a struct. Fields are matched by
// their `config` tag (lowercased field name without one); "-" skips a field.
func (m *Manager) Unmarshal(prefix string, target interface{}) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Get target value and type
	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Ptr {
		return fmt.Errorf("target must be a pointer")
	}

	targetValue = targetValue.Elem()
	if targetValue.Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to struct")
	}

	targetType := targetValue.Type()

	// Iterate through struct fields
	for i := 0; i < targetType.NumField(); i++ {
		field := targetType.Field(i)
		fieldValue := targetValue.Field(i)

		if !fieldValue.CanSet() {
			continue
		}

		// Get config key from tag or field name
		configKey := field.Tag.Get("config")
		if configKey == "-" {
			continue
		}
		if configKey == "" {
			configKey = strings.ToLower(field.Name)
		}

		// Add prefix
		if prefix != "" {
			configKey = prefix + "." + configKey
		}

		// Get value from config
		value, exists := m.values[configKey]
		if !exists {
			continue
		}

		// Set field value
		if err := setFieldValue(fieldValue, value); err != nil {
			return fmt.Errorf("failed to set field %s (%s): %w", field.Name, configKey, err)
		}
	}

	return nil
}

// setFieldValue sets a reflect.Value from an interface{} value
func setFieldValue(field reflect.Value, value interface{}) error {
	if list, ok := value.([]string); ok && field.Kind() != reflect.Slice && len(list) > 0 {
		// a repeated INI key: the last value wins
		value = list[len(list)-1]
	}

	if field.Type() == durationType {
		switch v := value.(type) {
		case string:
			d, err := parseDuration(v)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		case float64:
			field.SetInt(int64(v * float64(time.Second)))
		case time.Duration:
			field.SetInt(int64(v))
		default:
			return fmt.Errorf("cannot use %T as duration", value)
		}
		return nil
	}

	// Handle type conversion
	switch field.Kind() {
	case reflect.String:
		if str, ok := value.(string); ok {
			field.SetString(str)
		} else {
			field.SetString(fmt.Sprintf("%v", value))
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch v := value.(type) {
		case int:
			field.SetInt(int64(v))
		case int64:
			field.SetInt(v)
		case float64:
			field.SetInt(int64(v))
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		default:
			return fmt.Errorf("cannot use %T as integer", value)
		}

	case reflect.Bool:
		switch v := value.(type) {
		case bool:
			field.SetBool(v)
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				b = v == "yes" || v == "on"
			}
			field.SetBool(b)
		case float64:
			field.SetBool(v != 0)
		}

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %v", field.Type())
		}
		s, ok := toStringSlice(value)
		if !ok {
			return fmt.Errorf("cannot use %T as string list", value)
		}
		field.Set(reflect.ValueOf(s))

	default:
		valueReflect := reflect.ValueOf(value)
		if valueReflect.Type().ConvertibleTo(field.Type()) {
			field.Set(valueReflect.Convert(field.Type()))
		} else {
			return fmt.Errorf("cannot convert %v to %v", valueReflect.Type(), field.Type())
		}
	}

	return nil
}

// toStringSlice accepts a list or a comma-separated string
func toStringSlice(value interface{}) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...), true
	case []interface{}:
		result := make([]string, 0, len(v))
		for _, item := range v {
			result = append(result, fmt.Sprintf("%v", item))
		}
		return result, true
	case string:
		var result []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
		return result, true
	}
	return nil, false
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}
