package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/example/chefctl/internal/version"
)

func TestVersionCommandPrintsVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "Version:") || !strings.Contains(out, "GoVersion:") {
		t.Fatalf("expected version header, got: %q", out)
	}
}

func TestVersionCommandJSON(t *testing.T) {
	out, _, err := execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var info version.Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version == "" || info.Platform == "" {
		t.Fatalf("incomplete info %+v", info)
	}
}
