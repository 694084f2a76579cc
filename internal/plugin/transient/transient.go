// File: internal/plugin/transient/transient.go
// Brief: Rerun chef-client after failures that look transient.

// Package transient asks the orchestrator to rerun chef-client when the tail
// of the failed attempt's log points at a transient condition.
package transient

import (
	"context"
	"errors"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/example/chefctl/internal/plugin"
	"github.com/go-logr/logr"
)

const Name = "transient-rerun"

// tailBytes bounds how much of the log is inspected.
const tailBytes = 64 << 10

// Failure classes.
const (
	ClassRateLimit   = "RATE_LIMIT"
	ClassTimeout     = "TIMEOUT"
	ClassTransport   = "TRANSPORT"
	ClassUnavailable = "UNAVAILABLE"
	ClassServer5xx   = "SERVER_5XX"
	ClassLock        = "LOCK"
	ClassOther       = "OTHER"
)

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

// RerunChef reports whether the failed attempt should be retried.
func (p *Plugin) RerunChef(ctx context.Context, run *plugin.Run, res plugin.Result) bool {
	if res.Success() {
		return false
	}
	log := logr.FromContextOrDiscard(ctx)
	text := ""
	if res.Err != nil {
		text = res.Err.Error()
	}
	if res.LogFile != "" {
		tail, err := readTail(res.LogFile, tailBytes)
		if err != nil {
			log.V(1).Info("cannot read log tail", "path", res.LogFile, "error", err.Error())
		}
		text = errorBlock(tail) + "\n" + text
	}
	class := Classify(text)
	log.V(1).Info("classified chef-client failure", "attempt", res.Attempt, "exitCode", res.ExitCode, "class", class)
	return Retryable(class)
}

// fallbackLines is how much of a log without ERROR/FATAL lines is classified.
const fallbackLines = 20

// errorBlock keeps the ERROR: and FATAL: lines of a chef-client log, where
// the exception that ended the run is reported. Logs without such lines
// fall back to their last few lines.
func errorBlock(log string) string {
	lines := strings.Split(strings.TrimRight(log, "\n"), "\n")
	var block []string
	for _, line := range lines {
		if strings.Contains(line, "ERROR:") || strings.Contains(line, "FATAL:") {
			block = append(block, line)
		}
	}
	if len(block) > 0 {
		return strings.Join(block, "\n")
	}
	if len(lines) > fallbackLines {
		lines = lines[len(lines)-fallbackLines:]
	}
	return strings.Join(lines, "\n")
}

var markers = []struct {
	class string
	re    *regexp.Regexp
}{
	{ClassRateLimit, regexp.MustCompile(`\b429\b|too many requests`)},
	{ClassLock, regexp.MustCompile(`chef client already running|another chef client|could not obtain lock|yum lock|dpkg frontend lock|could not get lock`)},
	{ClassTimeout, regexp.MustCompile(`\btimed out\b|\btimeout\b|deadline exceeded|execution expired`)},
	{ClassTransport, regexp.MustCompile(`connection (reset|refused)|broken pipe|end of file reached|getaddrinfo`)},
	{ClassUnavailable, regexp.MustCompile(`\b503\b|temporarily unavailable|service unavailable`)},
	{ClassServer5xx, regexp.MustCompile(`\b50[024]\b|internal server error|bad gateway|server error`)},
}

// Classify maps chef-client failure output to a class. Markers are checked
// from most to least specific; output with no known marker is OTHER.
func Classify(text string) string {
	msg := strings.ToLower(text)
	if strings.TrimSpace(msg) == "" {
		return ClassOther
	}
	for _, m := range markers {
		if m.re.MatchString(msg) {
			return m.class
		}
	}
	return ClassOther
}

// Retryable reports whether a class is worth another attempt.
func Retryable(class string) bool {
	switch class {
	case ClassRateLimit, ClassTimeout, ClassTransport, ClassUnavailable, ClassServer5xx, ClassLock:
		return true
	default:
		return false
	}
}

func readTail(path string, n int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	if size := fi.Size(); size > n {
		if _, err := f.Seek(size-n, io.SeekStart); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(f)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return string(data), nil
}

var _ plugin.Rerunner = (*Plugin)(nil)
