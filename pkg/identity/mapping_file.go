package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// MappingFile persists the mapping as a single JSON object of
// name → id pairs. Decoding goes through the token stream instead of a
// map so the file's key order is kept, which is what makes fallback
// resolution stable.
type MappingFile struct {
	path string
}

func NewMappingFile(path string) *MappingFile {
	return &MappingFile{path: path}
}

func (f *MappingFile) Path() string {
	return f.path
}

func (f *MappingFile) Load() ([]Entry, bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read mapping file: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, true, fmt.Errorf("parse mapping file: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, true, fmt.Errorf("parse mapping file: expected object, got %v", tok)
	}

	var entries []Entry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, true, fmt.Errorf("parse mapping file: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, true, fmt.Errorf("parse mapping file: non-string key %v", keyTok)
		}

		var raw json.Number
		if err := dec.Decode(&raw); err != nil {
			return nil, true, fmt.Errorf("parse mapping file: value for %q: %w", name, err)
		}
		id, err := parseID(raw.String())
		if err != nil {
			return nil, true, fmt.Errorf("parse mapping file: value for %q: %w", name, err)
		}
		entries = append(entries, Entry{Name: name, ID: id})
	}

	return entries, true, nil
}

func (f *MappingFile) Save(entries []Entry) error {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, e := range entries {
		key, err := json.Marshal(e.Name)
		if err != nil {
			return fmt.Errorf("encode mapping key %q: %w", e.Name, err)
		}
		fmt.Fprintf(&buf, "  %s: %d", key, e.ID)
		if i < len(entries)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create mapping dir: %w", err)
	}
	if err := os.WriteFile(f.path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write mapping file: %w", err)
	}
	return nil
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
