package publish

import (
	"path"
	"strings"
)

// ChangeOp is the kind of a change-list entry.
type ChangeOp string

const (
	OpAdded    ChangeOp = "A"
	OpModified ChangeOp = "M"
	OpDeleted  ChangeOp = "D"
	OpRenamed  ChangeOp = "R"
)

// Change is one parsed change-list line. Deleted entries are carried
// through parsing but the publisher never deletes remote pages for them.
type Change struct {
	Op      ChangeOp
	Path    string
	NewPath string // renames only
}

// ParseChangeList parses a line-oriented change list in git name-status
// flavor: a bare path counts as modified, "A|M|D <path>", and
// "R<score> <old> <new>" for renames. Blank lines, #-comments and paths
// outside docsDir are dropped.
func ParseChangeList(data, docsDir string) []Change {
	root := normPosix(docsDir)
	var out []Change
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)

		var ch Change
		switch {
		case len(fields) == 1 && strings.Contains(fields[0], ".md"):
			ch = Change{Op: OpModified, Path: normPosix(fields[0])}
		case len(fields) >= 3 && strings.HasPrefix(fields[0], string(OpRenamed)):
			ch = Change{Op: OpRenamed, Path: normPosix(fields[1]), NewPath: normPosix(fields[2])}
		case len(fields) >= 2:
			op := ChangeOp(fields[0])
			if op != OpAdded && op != OpModified && op != OpDeleted {
				continue
			}
			ch = Change{Op: op, Path: normPosix(fields[1])}
		default:
			continue
		}

		probe := ch.Path
		if ch.Op == OpRenamed {
			probe = ch.NewPath
		}
		if !underDocs(probe, root) {
			continue
		}
		out = append(out, ch)
	}
	return out
}

// underDocs reports whether p lies under the documents root. Change lists
// produced at the repository top refer to "docs/..." even when the root
// was configured with a longer prefix, so a plain "docs/" prefix is also
// accepted when the root's base name is "docs".
func underDocs(p, root string) bool {
	if p == root || strings.HasPrefix(p, root+"/") {
		return true
	}
	return path.Base(root) == "docs" && strings.HasPrefix(p, "docs/")
}
