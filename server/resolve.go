package server

import (
	"path"
	"strings"

	"github.com/gonzalop/vftpd/vfs"
)

// resolve walks p from the root (absolute paths) or from the current
// directory (relative paths) and returns the node it names. Names are
// matched case-insensitively; the first match in listing order wins.
func (s *session) resolve(p string) (vfs.Node, bool) {
	root := s.server.root
	cur := s.cwd
	if strings.HasPrefix(p, "/") {
		cur = root
	}
	if p == "" {
		return cur, true
	}

	segments := strings.Split(p, "/")
	last := len(segments) - 1
	for i, seg := range segments {
		switch seg {
		case "":
			if i == last {
				return cur, true
			}
			continue
		case ".":
			continue
		case "..":
			cur = parentOf(cur, root)
			continue
		}

		next, ok := child(cur, seg, i < last)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// child returns the first child of dir named name, ignoring case. With
// dirOnly, non-directories are skipped.
func child(dir vfs.Node, name string, dirOnly bool) (vfs.Node, bool) {
	if !dir.IsDir() {
		return nil, false
	}
	children, err := dir.List("")
	if err != nil {
		return nil, false
	}
	for _, c := range children {
		if dirOnly && !c.IsDir() {
			continue
		}
		if strings.EqualFold(c.Name(), name) {
			return c, true
		}
	}
	return nil, false
}

// parentOf returns n's parent, clamped at root.
func parentOf(n, root vfs.Node) vfs.Node {
	if n == root {
		return root
	}
	if p := n.Parent(root); p != nil {
		return p
	}
	return root
}

// resolveDir resolves p and accepts only directories.
func (s *session) resolveDir(p string) (vfs.Node, bool) {
	n, ok := s.resolve(p)
	if !ok || !n.IsDir() {
		return nil, false
	}
	return n, true
}

// resolveFile resolves p and accepts only non-directories.
func (s *session) resolveFile(p string) (vfs.Node, bool) {
	n, ok := s.resolve(p)
	if !ok || n.IsDir() {
		return nil, false
	}
	return n, true
}

// splitParent splits p into the path of its parent directory and its final
// name. Trailing slashes are ignored. "a" yields ("", "a") and "/a" yields
// ("/", "a").
func splitParent(p string) (dir, name string) {
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return p, ""
	}
	i := strings.LastIndex(trimmed, "/")
	if i < 0 {
		return "", trimmed
	}
	if i == 0 {
		return "/", trimmed[1:]
	}
	return trimmed[:i], trimmed[i+1:]
}

// pathOf renders the absolute virtual path of n.
func (s *session) pathOf(n vfs.Node) string {
	root := s.server.root
	var names []string
	for n != root {
		names = append(names, n.Name())
		p := n.Parent(root)
		if p == nil || p == n {
			break
		}
		n = p
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return path.Join(append([]string{"/"}, names...)...)
}

// quotePath escapes p for a 257 reply by doubling embedded quotes.
func quotePath(p string) string {
	return strings.ReplaceAll(p, `"`, `""`)
}
