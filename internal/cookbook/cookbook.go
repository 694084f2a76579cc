// File: internal/cookbook/cookbook.go
// Brief: Client bootstrap settings derived from the chef repo layout.

// Package cookbook resolves the settings chef-client needs to run in local
// mode against a chef repo: the repo root, its cookbook directories, node
// data and the file cache. It also renders them as a client.rb.
package cookbook

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/template"

	"github.com/example/chefctl/internal/fsutil"
	"github.com/example/chefctl/internal/platform"
)

// RepoEnvVar overrides the chef repo root.
const RepoEnvVar = "CHEF_REPO"

// Config is the client bootstrap document.
type Config struct {
	RepoRoot        string   `json:"chef_repo"`
	CookbookPaths   []string `json:"cookbook_path"`
	NodePath        string   `json:"node_path"`
	FileCachePath   string   `json:"file_cache_path"`
	LocalMode       bool     `json:"local_mode"`
	ChefZeroEnabled bool     `json:"chef_zero_enabled"`
}

// Resolver computes a Config. The zero value uses the process environment
// and the detected platform.
type Resolver struct {
	Platform  platform.Platform
	LookupEnv func(string) (string, bool)
	// Environ supplies the environment snapshot; nil means os.Environ.
	Environ func() []string
	// Diag receives the "Chef repo:" line, the environment snapshot and the
	// cookbook list.
	Diag io.Writer
}

// RepoRoot returns CHEF_REPO when it is set and non-empty, else the
// platform default.
func (r Resolver) RepoRoot() string {
	lookup := r.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(RepoEnvVar); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return platform.Defaults(r.platform()).ChefRepo
}

func (r Resolver) platform() platform.Platform {
	if r.Platform.GOOS == "" {
		return platform.Detect()
	}
	return r.Platform
}

// Resolve builds the bootstrap document from the repo on disk.
func (r Resolver) Resolve() (*Config, error) {
	root := r.RepoRoot()
	if r.Diag != nil {
		fmt.Fprintf(r.Diag, "Chef repo: %s\n", root)
		r.writeEnv(r.Diag)
	}
	paths, err := CookbookPaths(root)
	if err != nil {
		return nil, err
	}
	if r.Diag != nil {
		for _, p := range paths {
			fmt.Fprintln(r.Diag, p)
		}
	}
	return &Config{
		RepoRoot:        root,
		CookbookPaths:   paths,
		NodePath:        joinPath(root, "nodes"),
		FileCachePath:   platform.Defaults(r.platform()).FileCachePath,
		LocalMode:       true,
		ChefZeroEnabled: true,
	}, nil
}

func (r Resolver) writeEnv(w io.Writer) {
	environ := r.Environ
	if environ == nil {
		environ = os.Environ
	}
	env := slices.Clone(environ())
	slices.Sort(env)
	fmt.Fprintln(w, "env:")
	for _, kv := range env {
		fmt.Fprintf(w, "  %s\n", kv)
	}
}

// CookbookPaths lists the directories directly under <root>/cookbooks,
// skipping the "." and ".." pseudo-entries and anything that is not a
// directory. Symlinks to directories count as directories.
func CookbookPaths(root string) ([]string, error) {
	dir := joinPath(root, "cookbooks")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read cookbook root %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return FilterCookbooks(dir, names, isDir), nil
}

// FilterCookbooks keeps the names that are directories under dir and are
// not "." or "..", preserving input order.
func FilterCookbooks(dir string, names []string, isDir func(string) bool) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		path := joinPath(dir, name)
		if !isDir(path) {
			continue
		}
		out = append(out, path)
	}
	return out
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// joinPath keeps forward slashes so Windows defaults stay in C:/ form.
func joinPath(elem ...string) string {
	return filepath.ToSlash(filepath.Join(elem...))
}

var clientRBTemplate = template.Must(template.New("client.rb").Funcs(template.FuncMap{
	"ruby": rubyString,
}).Parse(`# Generated by chefctl client-config.
chef_repo_root = {{ ruby .RepoRoot }}
cookbook_path [
{{- range $i, $p := .CookbookPaths }}{{ if $i }},{{ end }}
  {{ ruby $p }}
{{- end }}
]
node_path {{ ruby .NodePath }}
file_cache_path {{ ruby .FileCachePath }}

local_mode {{ .LocalMode }}
chef_zero.enabled {{ .ChefZeroEnabled }}
`))

// rubyString quotes s as a Ruby double-quoted literal; Go's escaping is a
// subset Ruby understands except for "#{", which is escaped separately.
func rubyString(s string) string {
	return strings.ReplaceAll(strconv.Quote(s), "#{", `\#{`)
}

// Render writes cfg as a client.rb.
func (c *Config) Render(w io.Writer) error {
	return clientRBTemplate.Execute(w, c)
}

// JSON writes cfg as indented JSON.
func (c *Config) JSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// WriteFile atomically replaces path with the rendered client.rb.
func (c *Config) WriteFile(path string) error {
	var b strings.Builder
	if err := c.Render(&b); err != nil {
		return fmt.Errorf("render client.rb: %w", err)
	}
	return fsutil.WriteFile(path, []byte(b.String()), 0o644)
}
