package tree

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/meigma/ngsarchiver/probe"
)

// RenderTree writes an indented drawing of the tree, one entry per line,
// with the root name on the first line. Symlinks show their target.
func (t *Tree) RenderTree(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, t.Name())

	lastChild := make(map[string]string, len(t.entries))
	for _, e := range t.entries {
		lastChild[path.Dir(e.Path)] = e.Path
	}

	var lastAt []bool
	for _, e := range t.entries {
		depth := strings.Count(e.Path, "/")
		isLast := lastChild[path.Dir(e.Path)] == e.Path
		lastAt = append(lastAt[:depth], isLast)

		var b strings.Builder
		for _, ancestorLast := range lastAt[:depth] {
			if ancestorLast {
				b.WriteString("    ")
			} else {
				b.WriteString("│   ")
			}
		}
		if isLast {
			b.WriteString("└── ")
		} else {
			b.WriteString("├── ")
		}
		b.WriteString(e.Name())
		switch e.Kind {
		case probe.KindDir:
			b.WriteString("/")
		case probe.KindSymlink:
			b.WriteString(" -> ")
			b.WriteString(e.Target)
		}
		fmt.Fprintln(bw, b.String())
	}
	return bw.Flush()
}

// WriteFileList writes every non-directory path, one per line, prefixed
// with the root name.
func (t *Tree) WriteFileList(w io.Writer) error {
	bw := bufio.NewWriter(w)
	name := t.Name()
	for _, e := range t.entries {
		if e.Kind == probe.KindDir {
			continue
		}
		fmt.Fprintln(bw, name+"/"+e.Path)
	}
	return bw.Flush()
}
