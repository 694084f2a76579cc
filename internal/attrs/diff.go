package attrs

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// Diff returns a unified diff between the base document and the merged one.
// An empty string means the fragments changed nothing.
func Diff(doc *Document, baseName string) (string, error) {
	before, err := Encode(doc.Base)
	if err != nil {
		return "", err
	}
	after, err := Encode(doc.Data)
	if err != nil {
		return "", err
	}
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: baseName,
		ToFile:   fmt.Sprintf("merged (%d fragments)", len(doc.Fragments)),
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("diff attributes: %w", err)
	}
	return out, nil
}
