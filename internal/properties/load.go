// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package properties

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var (
	// ErrLoad wraps every failure in reading a property file.
	ErrLoad = errors.New("cannot load properties")
)

// Load reads the file at path and merges its properties into p. The format
// is chosen on the extension: .yaml and .yml are YAML documents, .toml is TOML,
// everything else is the native key = value format.
func (p *Properties) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = p.LoadYAML(file)
	case ".toml":
		err = p.LoadTOML(file)
	default:
		err = p.LoadNative(file)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}
	return nil
}

// LoadNative parses the native property format: one key = value pair per line,
// '#' starts a comment, and a backslash escapes '#', '=', spaces and itself.
func (p *Properties) LoadNative(reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		key, value, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if err := p.SetProperty(key, value); err != nil {
			return fmt.Errorf("line %d: %w", lineNumber, err)
		}
	}
	return scanner.Err()
}

// LoadYAML reads a YAML document; nested mappings become dotted keys.
func (p *Properties) LoadYAML(reader io.Reader) error {
	var document map[string]any
	if err := yaml.NewDecoder(reader).Decode(&document); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return p.setFlattened(document)
}

// LoadTOML reads a TOML document; tables become dotted keys.
func (p *Properties) LoadTOML(reader io.Reader) error {
	var document map[string]any
	if _, err := toml.NewDecoder(reader).Decode(&document); err != nil {
		return err
	}
	return p.setFlattened(document)
}

func (p *Properties) setFlattened(document map[string]any) error {
	flat := make(map[string]string)
	flatten("", document, flat)

	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := p.SetProperty(key, flat[key]); err != nil {
			return err
		}
	}
	return nil
}

func flatten(prefix string, value any, out map[string]string) {
	switch typed := value.(type) {
	case map[string]any:
		for key, nested := range typed {
			flatten(joinKey(prefix, key), nested, out)
		}
	case []any:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, scalarString(item))
		}
		out[prefix] = strings.Join(items, ",")
	default:
		out[prefix] = scalarString(typed)
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func scalarString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		if typed {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(typed)
	}
}

// parseLine returns the key and value of a native property line. Blank lines
// and comments return ok false.
func parseLine(line string) (string, string, bool) {
	var (
		key      strings.Builder
		value    strings.Builder
		inValue  bool
		trailing strings.Builder
	)

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\\' && i+1 < len(runes) {
			next := runes[i+1]
			switch next {
			case '#', '=', '\\', ' ', '\t':
				i++
				if inValue {
					value.WriteString(trailing.String())
					trailing.Reset()
					value.WriteRune(next)
				} else {
					key.WriteRune(next)
				}
				continue
			}
		}

		if r == '#' {
			break
		}

		if !inValue && r == '=' {
			inValue = true
			continue
		}

		if inValue {
			if r == ' ' || r == '\t' {
				if value.Len() == 0 {
					continue
				}
				trailing.WriteRune(r)
				continue
			}
			value.WriteString(trailing.String())
			trailing.Reset()
			value.WriteRune(r)
			continue
		}
		key.WriteRune(r)
	}

	trimmedKey := strings.TrimSpace(key.String())
	if trimmedKey == "" {
		return "", "", false
	}
	return trimmedKey, value.String(), true
}

var (
	keyReplacer   = strings.NewReplacer(`\`, `\\`, "#", `\#`, "=", `\=`)
	valueReplacer = strings.NewReplacer(`\`, `\\`, "#", `\#`)
)

func escapeKey(key string) string {
	return keyReplacer.Replace(key)
}

func escapeValue(value string) string {
	return valueReplacer.Replace(value)
}
