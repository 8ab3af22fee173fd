// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package properties

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

const (
	// ConfigProperty lists the configuration files to load, comma separated.
	ConfigProperty = "Ice.Config"
	// ConfigEnvVariable is consulted when the arguments do not set Ice.Config.
	ConfigEnvVariable = "ICE_CONFIG"
)

var (
	// ErrInvalidKey is returned when setting a property with an empty key.
	ErrInvalidKey = errors.New("invalid property key")
	// ErrNotInteger is returned by GetPropertyAsInt for non numeric values.
	ErrNotInteger = errors.New("property value is not an integer")
	// ErrUnterminatedQuote is returned by list parsing when a quote is left open.
	ErrUnterminatedQuote = errors.New("unterminated quote in property list")

	// reservedPrefixes are the prefixes parsed from the command line by ParseIceCommandLineOptions.
	reservedPrefixes = []string{"Ice", "IceSSL", "IceBox", "Test"}
)

// Properties is a goroutine safe string to string bag holding the
// configuration of a communicator and its adapters.
type Properties struct {
	mu     sync.RWMutex
	values map[string]string
}

// New returns an empty property set.
func New() *Properties {
	return &Properties{values: make(map[string]string)}
}

// NewFromArgs builds a property set from command line arguments. Options for
// the reserved prefixes are consumed, then the files named by Ice.Config (or by
// the ICE_CONFIG environment value passed in lookupEnv) are loaded underneath
// them. The arguments that were not consumed are returned.
func NewFromArgs(args []string, lookupEnv func(string) (string, bool)) (*Properties, []string, error) {
	props := New()
	remaining := props.ParseIceCommandLineOptions(args)

	configFiles := props.GetProperty(ConfigProperty)
	if configFiles == "" && lookupEnv != nil {
		if value, ok := lookupEnv(ConfigEnvVariable); ok {
			configFiles = value
		}
	}
	if configFiles == "" {
		return props, remaining, nil
	}

	loaded := New()
	for _, file := range strings.Split(configFiles, ",") {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		if err := loaded.Load(file); err != nil {
			return nil, nil, err
		}
	}

	// command line options win over file values
	props.mu.RLock()
	for key, value := range props.values {
		loaded.values[key] = value
	}
	props.mu.RUnlock()
	loaded.values[ConfigProperty] = configFiles

	return loaded, remaining, nil
}

// Clone returns an independent copy of p.
func (p *Properties) Clone() *Properties {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return &Properties{values: maps.Clone(p.values)}
}

// GetProperty returns the value for key or the empty string.
func (p *Properties) GetProperty(key string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.values[key]
}

// GetPropertyWithDefault returns the value for key, or def when the key is unset.
func (p *Properties) GetPropertyWithDefault(key, def string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if value, ok := p.values[key]; ok {
		return value
	}
	return def
}

// GetPropertyAsInt returns the value for key as an integer. An unset key is 0.
func (p *Properties) GetPropertyAsInt(key string) (int, error) {
	value := strings.TrimSpace(p.GetProperty(key))
	if value == "" {
		return 0, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrNotInteger, key, value)
	}
	return parsed, nil
}

// GetPropertyAsIntWithDefault returns the integer value of key, or def when the
// key is unset or not a number.
func (p *Properties) GetPropertyAsIntWithDefault(key string, def int) int {
	value := strings.TrimSpace(p.GetProperty(key))
	if value == "" {
		return def
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// GetPropertyAsList splits the value of key on commas and white space.
func (p *Properties) GetPropertyAsList(key string) []string {
	return p.GetPropertyAsListWithDefault(key, nil)
}

// GetPropertyAsListWithDefault splits the value of key, or returns def when the
// key is unset or cannot be parsed.
func (p *Properties) GetPropertyAsListWithDefault(key string, def []string) []string {
	value := p.GetProperty(key)
	if value == "" {
		return def
	}

	list, err := SplitList(value)
	if err != nil {
		return def
	}
	return list
}

// GetPropertiesForPrefix returns every property whose key starts with prefix.
func (p *Properties) GetPropertiesForPrefix(prefix string) map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make(map[string]string)
	for key, value := range p.values {
		if strings.HasPrefix(key, prefix) {
			result[key] = value
		}
	}
	return result
}

// SetProperty sets key to value. An empty value removes the key.
func (p *Properties) SetProperty(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidKey
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if value == "" {
		delete(p.values, key)
		return nil
	}
	p.values[key] = value
	return nil
}

// Keys returns the sorted property names.
func (p *Properties) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return slices.Sorted(maps.Keys(p.values))
}

// ParseCommandLineOptions consumes every "--prefix.key[=value]" argument and
// returns the arguments left over. An option with no value is set to "1".
func (p *Properties) ParseCommandLineOptions(prefix string, args []string) []string {
	pfx := prefix
	if pfx != "" && !strings.HasSuffix(pfx, ".") {
		pfx += "."
	}
	pfx = "--" + pfx

	remaining := make([]string, 0, len(args))
	for _, arg := range args {
		if !strings.HasPrefix(arg, pfx) {
			remaining = append(remaining, arg)
			continue
		}

		option := strings.TrimPrefix(arg, "--")
		key, value, found := strings.Cut(option, "=")
		if !found {
			value = "1"
		}
		if err := p.SetProperty(key, value); err != nil {
			remaining = append(remaining, arg)
		}
	}
	return remaining
}

// ParseIceCommandLineOptions applies ParseCommandLineOptions for every reserved prefix.
func (p *Properties) ParseIceCommandLineOptions(args []string) []string {
	remaining := args
	for _, prefix := range reservedPrefixes {
		remaining = p.ParseCommandLineOptions(prefix, remaining)
	}
	return remaining
}

// String dumps the properties sorted by key in the native file format.
func (p *Properties) String() string {
	builder := new(strings.Builder)
	for _, key := range p.Keys() {
		builder.WriteString(escapeKey(key))
		builder.WriteString("=")
		builder.WriteString(escapeValue(p.GetProperty(key)))
		builder.WriteString("\n")
	}
	return builder.String()
}

// SplitList splits a property value on commas and white space; single or
// double quotes group words together.
func SplitList(value string) ([]string, error) {
	var (
		items   []string
		current strings.Builder
		quote   rune
		pending bool
	)

	flush := func() {
		if pending {
			items = append(items, current.String())
		}
		current.Reset()
		pending = false
	}

	for _, r := range value {
		switch {
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			current.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			pending = true
		case r == ',' || unicode.IsSpace(r):
			flush()
		default:
			current.WriteRune(r)
			pending = true
		}
	}

	if quote != 0 {
		return nil, ErrUnterminatedQuote
	}
	flush()
	return items, nil
}
