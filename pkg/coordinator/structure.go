package coordinator

import (
	"sort"

	"github.com/taskmesh/taskmesh/pkg/types"
	"github.com/taskmesh/taskmesh/pkg/utils"
)

// structureFrame is one unit of traversal work
type structureFrame struct {
	node   map[string]any
	prefix string
}

// FlattenStructure walks a nested directory/file tree and returns the
// flat list of file paths. Traversal is iterative with an explicit work
// stack so adversarially deep structures cannot blow the call stack.
// Keys within a directory are visited in sorted order, which makes
// discovery order stable for a given structure.
func FlattenStructure(structure types.ProjectStructure) []string {
	var files []string

	stack := []structureFrame{{node: structure, prefix: ""}}
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		keys := make([]string, 0, len(frame.node))
		for k := range frame.node {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		// Push directories in reverse so they pop in sorted order
		for i := len(keys) - 1; i >= 0; i-- {
			name := keys[i]
			path := name
			if frame.prefix != "" {
				path = frame.prefix + "/" + name
			}

			switch child := frame.node[name].(type) {
			case map[string]any:
				stack = append(stack, structureFrame{node: child, prefix: path})
			default:
				// Absent or string leaf values are file placeholders
				files = append(files, utils.NormalizePath(path))
			}
		}
	}

	// Directories were interleaved with files on the stack; re-sort so
	// sibling files keep their sorted order across nesting levels.
	sort.Strings(files)
	return files
}
