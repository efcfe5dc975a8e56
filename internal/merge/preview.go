package merge

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// previewFileLimit caps how many files a preview renders.
const previewFileLimit = 20

// Preview renders a per-file diff of what merging sourceBranch into
// the target would change, relative to their common ancestor.
func (h *Handler) Preview(sourceBranch string) (string, error) {
	base, err := h.git.MergeBase(h.targetBranch, sourceBranch)
	if err != nil {
		return "", fmt.Errorf("merge base %s..%s: %w", h.targetBranch, sourceBranch, err)
	}
	files, err := h.git.ChangedFilesRelative(sourceBranch, h.targetBranch)
	if err != nil {
		return "", fmt.Errorf("changed files on %s: %w", sourceBranch, err)
	}

	dmp := diffmatchpatch.New()
	var b strings.Builder
	for i, file := range files {
		if i >= previewFileLimit {
			fmt.Fprintf(&b, "... and %d more files\n", len(files)-previewFileLimit)
			break
		}

		// A missing side means the file was added or deleted.
		before, _ := h.git.ShowFile(base, file)
		after, _ := h.git.ShowFile(sourceBranch, file)

		diffs := dmp.DiffMain(before, after, false)
		diffs = dmp.DiffCleanupSemantic(diffs)
		fmt.Fprintf(&b, "--- %s\n", file)
		b.WriteString(dmp.DiffPrettyText(diffs))
		b.WriteString("\n")
	}
	return b.String(), nil
}
