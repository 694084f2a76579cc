package version

import (
	"strings"
	"testing"
)

func TestGetDropsUnknownFields(t *testing.T) {
	info := Get()
	if info.GitCommit != "" || info.BuildDate != "" {
		t.Fatalf("expected unknown metadata to be omitted, got %+v", info)
	}
	if info.Version != "dev" {
		t.Fatalf("expected dev version, got %q", info.Version)
	}
}

func TestBannerTruncatesCommit(t *testing.T) {
	info := Info{Version: "1.2.3", GitCommit: "0123456789abcdef", Platform: "linux/amd64", GoVersion: "go1.25"}
	got := info.Banner()
	if !strings.Contains(got, "1.2.3+0123456789ab ") {
		t.Fatalf("unexpected banner %q", got)
	}
}
