// Package attrs builds the JSON attribute document handed to chef-client
// with -j: a base config.json deep-merged with every fragment found in
// config.json.d.
package attrs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/moby/patternmatcher"
	"github.com/opencontainers/go-digest"
)

// ErrBaseMissing is returned when the base attribute document does not exist.
var ErrBaseMissing = errors.New("base attribute document not found")

// Source locates the base document and its fragments.
type Source struct {
	Base        string
	FragmentDir string
	Pattern     string
	Merge       MergeOptions
}

// Document is a merged attribute document plus the fragments that shaped it.
type Document struct {
	Base      map[string]any
	Data      map[string]any
	Fragments []string
}

// Load reads the base document and merges each matching fragment in lexical
// order. A missing fragment directory is not an error; an unreadable one is.
func Load(ctx context.Context, src Source) (*Document, error) {
	base, err := readObject(src.Base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBaseMissing, src.Base)
		}
		return nil, err
	}
	doc := &Document{Base: base, Data: base}
	if src.FragmentDir == "" {
		return doc, nil
	}
	fragments, err := Fragments(src.FragmentDir, src.Pattern)
	if err != nil {
		return nil, err
	}
	for _, path := range fragments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frag, err := readObject(path)
		if err != nil {
			return nil, err
		}
		doc.Data = Merge(doc.Data, frag, src.Merge)
		doc.Fragments = append(doc.Fragments, path)
	}
	return doc, nil
}

// Fragments lists the files directly inside dir whose names match pattern
// (dockerignore syntax, default "*.json"), sorted by name. Symlinks to
// regular files count; dotfiles do not.
func Fragments(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*.json"
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read fragment dir %s: %w", dir, err)
	}
	pm, err := patternmatcher.New([]string{pattern})
	if err != nil {
		return nil, fmt.Errorf("fragment pattern %q: %w", pattern, err)
	}
	var out []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") || !isRegularFile(dir, entry) {
			continue
		}
		ok, err := pm.MatchesOrParentMatches(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", entry.Name(), err)
		}
		if ok {
			out = append(out, filepath.Join(dir, entry.Name()))
		}
	}
	return out, nil
}

// isRegularFile follows symlinks; directories and dangling links are skipped.
func isRegularFile(dir string, entry os.DirEntry) bool {
	if entry.Type().IsRegular() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, entry.Name()))
	return err == nil && info.Mode().IsRegular()
}

func readObject(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if out == nil {
		return nil, fmt.Errorf("parse %s: top-level value must be a JSON object", path)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("parse %s: unexpected data after the top-level object", path)
	}
	return out, nil
}

// Encode renders doc as indented JSON with a trailing newline.
func Encode(doc map[string]any) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// WriteTo writes the encoded document into f, flushes it to disk and rewinds
// it so the caller can hand the open file to another reader.
func WriteTo(f *os.File, doc map[string]any) (digest.Digest, error) {
	data, err := Encode(doc)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("write %s: %w", f.Name(), err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync %s: %w", f.Name(), err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind %s: %w", f.Name(), err)
	}
	return digest.FromBytes(data), nil
}
