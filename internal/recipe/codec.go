package recipe

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dub-build/dub/internal/log"
)

// Format identifies a recipe surface syntax.
type Format int

const (
	FormatJSON Format = iota
	FormatSDL
)

// FormatOf determines the codec from a file name suffix. Any suffix
// other than .json or .sdl is a programmer error.
func FormatOf(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return FormatJSON, nil
	case ".sdl":
		return FormatSDL, nil
	default:
		return 0, fmt.Errorf("unsupported recipe file suffix on %q", filename)
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse decodes recipe text. The codec is chosen by the filename suffix
// and a UTF-8 BOM is stripped before decoding. parentName names the parent
// package of a sub-package recipe; the decoders do not use it, and the
// decoded Name is the one written in the text, not qualified by the parent.
func Parse(data []byte, filename, parentName string, logger log.Logger) (Recipe, error) {
	if logger == nil {
		logger = log.Default()
	}
	format, err := FormatOf(filename)
	if err != nil {
		return Recipe{}, err
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	switch format {
	case FormatSDL:
		return parseSDL(data, filename, parentName, logger)
	default:
		return parseJSON(data, filename, parentName, logger)
	}
}

// ParseFile reads and decodes a recipe file.
func ParseFile(path, parentName string, logger log.Logger) (Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Recipe{}, fmt.Errorf("failed to read recipe %s: %w", path, err)
	}
	return Parse(data, path, parentName, logger)
}

// Encode serializes the recipe in the given format.
func Encode(r Recipe, format Format) ([]byte, error) {
	switch format {
	case FormatSDL:
		return encodeSDL(r)
	default:
		return encodeJSON(r)
	}
}

// WriteFile serializes the recipe with the codec chosen by the target
// file name and writes it via a temporary-then-rename.
func WriteFile(r Recipe, path string) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := Encode(r, format)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write recipe: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename recipe into place: %w", err)
	}
	return nil
}
