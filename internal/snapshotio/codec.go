// Package snapshotio reads and writes snapshot files in JSON, YAML and msgpack.
// Every format is decoded through the same JSON path so older files are migrated
// and validated identically.
package snapshotio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/companion-board/backend/internal/models"
	"github.com/companion-board/backend/internal/store"
)

// Format names a snapshot encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat maps a query or flag value to a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "msgpack", "mpk":
		return FormatMsgpack, nil
	}
	return "", fmt.Errorf("unsupported snapshot format %q", s)
}

// FormatFromPath picks a format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".msgpack", ".mpk":
		return FormatMsgpack
	}
	return FormatJSON
}

// ContentType returns the HTTP media type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/yaml"
	case FormatMsgpack:
		return "application/msgpack"
	}
	return "application/json"
}

// Encode writes s in format f.
func Encode(w io.Writer, s models.Snapshot, f Format) error {
	switch f {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encoding yaml snapshot: %w", err)
		}
		return enc.Close()
	case FormatMsgpack:
		enc := msgpack.NewEncoder(w)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encoding msgpack snapshot: %w", err)
		}
		return nil
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encoding json snapshot: %w", err)
		}
		return nil
	}
}

// Decode reads a snapshot file in format f. A document without a boxes array fails
// with models.ErrMissingBoxes.
func Decode(r io.Reader, f Format) (models.PartialSnapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.PartialSnapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}

	switch f {
	case FormatYAML:
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return models.PartialSnapshot{}, fmt.Errorf("%w: %v", store.ErrInvalidSnapshot, err)
		}
		data, err = json.Marshal(camelize(doc))
	case FormatMsgpack:
		var doc any
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		if doc, err = dec.DecodeInterface(); err != nil {
			return models.PartialSnapshot{}, fmt.Errorf("%w: %v", store.ErrInvalidSnapshot, err)
		}
		data, err = json.Marshal(stringKeys(doc))
	}
	if err != nil {
		return models.PartialSnapshot{}, fmt.Errorf("%w: %v", store.ErrInvalidSnapshot, err)
	}
	return store.DecodeSnapshot(data, true)
}

// camelize rewrites the snake_case keys of a YAML document to the JSON field names.
func camelize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[snakeToCamel(k)] = camelize(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = camelize(t[i])
		}
		return t
	}
	return v
}

func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

// stringKeys makes a decoded msgpack document JSON-encodable; maps with non-string
// keys decode as map[any]any.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case map[string]any:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case []any:
		for i := range t {
			t[i] = stringKeys(t[i])
		}
		return t
	}
	return v
}
