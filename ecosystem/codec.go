// Copyright 2026 The Crawlvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ecosystem

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is a descriptor file syntax.
type Format int

const (
	JSON Format = iota
	YAML
	TOML
)

func (f Format) String() string {
	switch f {
	case JSON:
		return "json"
	case YAML:
		return "yaml"
	case TOML:
		return "toml"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat accepts the names printed by Format.String, plus "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	case "toml":
		return TOML, nil
	}
	return JSON, fmt.Errorf("%w: %q", ErrBadFormat, s)
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return JSON, fmt.Errorf("%w: %s has no extension", ErrBadFormat, path)
	}
	return ParseFormat(ext)
}

// Decode reads a descriptor.  It does not validate it.
func Decode(r io.Reader, f Format) (*Descriptor, error) {
	d := &Descriptor{}
	switch f {
	case JSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if e := dec.Decode(d); e != nil {
			return nil, fmt.Errorf("decode json: %w", e)
		}
	case YAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if e := dec.Decode(d); e != nil {
			return nil, fmt.Errorf("decode yaml: %w", e)
		}
	case TOML:
		dec := toml.NewDecoder(r)
		dec.DisallowUnknownFields()
		if e := dec.Decode(d); e != nil {
			return nil, fmt.Errorf("decode toml: %w", e)
		}
	default:
		return nil, ErrBadFormat
	}
	return d, nil
}

// Encode writes the descriptor in canonical form.  Map keys are sorted,
// slices keep their order, and empty optional fields are left out, so a
// canonically formatted file survives a Decode/Encode cycle byte for byte.
func (d *Descriptor) Encode(w io.Writer, f Format) error {
	switch f {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if e := enc.Encode(d); e != nil {
			return e
		}
		return enc.Close()
	case TOML:
		return toml.NewEncoder(w).Encode(d)
	}
	return ErrBadFormat
}

// Marshal is Encode into a byte slice.
func (d *Descriptor) Marshal(f Format) ([]byte, error) {
	var buf bytes.Buffer
	if e := d.Encode(&buf, f); e != nil {
		return nil, e
	}
	return buf.Bytes(), nil
}

// Load reads the descriptor at path, using the extension for the format.
func Load(path string) (*Descriptor, error) {
	f, e := FormatFromPath(path)
	if e != nil {
		return nil, e
	}
	fh, e := os.Open(path)
	if e != nil {
		return nil, e
	}
	defer fh.Close()
	d, e := Decode(fh, f)
	if e != nil {
		return nil, fmt.Errorf("%s: %w", path, e)
	}
	return d, nil
}

// Save writes the descriptor to path in the format implied by its
// extension.  The file is replaced atomically, keeping its permissions;
// a new file gets 0644.
func (d *Descriptor) Save(path string) error {
	f, e := FormatFromPath(path)
	if e != nil {
		return e
	}
	b, e := d.Marshal(f)
	if e != nil {
		return e
	}
	mode := os.FileMode(0644)
	if fi, e := os.Stat(path); e == nil {
		mode = fi.Mode().Perm()
	}
	tmp, e := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if e != nil {
		return e
	}
	if e = tmp.Chmod(mode); e != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return e
	}
	if _, e = tmp.Write(b); e != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return e
	}
	if e = tmp.Close(); e != nil {
		os.Remove(tmp.Name())
		return e
	}
	return os.Rename(tmp.Name(), path)
}
