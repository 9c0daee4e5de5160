package policy

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sentinel-dev/sentinel/domain/entities"
)

const metaChars = "*?[{\\"

// metaIndex returns the index of the first glob metacharacter, or -1.
func metaIndex(pattern string) int {
	return strings.IndexAny(pattern, metaChars)
}

func countWildcards(pattern string) int {
	n := 0
	for _, r := range pattern {
		switch r {
		case '*', '?', '[', '{':
			n++
		}
	}
	return n
}

// canonicalPath makes p absolute, removes "." and ".." and, when
// enabled, resolves symlinks. Paths that do not exist yet are resolved
// through their deepest existing ancestor so a write target cannot hide
// behind a symlinked parent or a dangling link.
func canonicalPath(p, cwd string, resolveSymlinks bool) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("path contains NUL byte")
	}
	if !filepath.IsAbs(p) {
		if cwd == "" {
			return "", fmt.Errorf("relative path without working directory")
		}
		p = filepath.Join(cwd, p)
	}
	p = filepath.Clean(p)
	if resolveSymlinks {
		return resolveExisting(p)
	}
	return p, nil
}

// maxLinkHops bounds how many symlinks resolveExisting follows by hand.
const maxLinkHops = 40

// resolveExisting evaluates symlinks on the longest existing prefix of
// p and re-attaches the remainder. A dangling symlink on the way is
// followed to its target, which does not exist yet either.
func resolveExisting(p string) (string, error) {
	for hops := 0; ; hops++ {
		next, err := resolveOnce(p)
		if err != nil {
			return "", err
		}
		if next == "" {
			return p, nil
		}
		if hops >= maxLinkHops {
			return "", fmt.Errorf("too many levels of symbolic links: %s", p)
		}
		p = next
	}
}

// resolveOnce makes one resolution step. It returns "" once p is stable,
// otherwise the path to continue from.
func resolveOnce(p string) (string, error) {
	var tail []string
	cur := p
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			slices.Reverse(tail)
			joined := filepath.Join(append([]string{resolved}, tail...)...)
			if joined == p {
				return "", nil
			}
			return joined, nil
		}
		if info, err := os.Lstat(cur); err == nil && info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(cur)
			if err != nil {
				return "", fmt.Errorf("read link %s: %w", cur, err)
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(cur), target)
			}
			slices.Reverse(tail)
			return filepath.Clean(filepath.Join(append([]string{target}, tail...)...)), nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

// canonicalPathPattern normalizes a path pattern the same way resources
// are normalized: only the literal directory prefix is resolved.
func canonicalPathPattern(pattern, cwd string, resolveSymlinks bool) (string, error) {
	if !filepath.IsAbs(pattern) {
		if cwd == "" {
			return "", fmt.Errorf("relative pattern %q without working directory", pattern)
		}
		pattern = filepath.Join(cwd, pattern)
	}
	pattern = filepath.Clean(pattern)
	if !resolveSymlinks {
		return pattern, nil
	}

	idx := metaIndex(pattern)
	if idx < 0 {
		return resolveExisting(pattern)
	}
	slash := strings.LastIndex(pattern[:idx], "/")
	if slash <= 0 {
		return pattern, nil
	}
	base, rest := pattern[:slash], pattern[slash:]
	resolved, err := resolveExisting(base)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(resolved, "/") + rest, nil
}

var defaultPorts = map[string]string{"http": "80", "https": "443", "ws": "80", "wss": "443"}

// canonicalURL lowercases scheme and host, strips default ports and the
// root-zone dot, cleans the path and drops query and fragment.
func canonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("absolute URL required")
	}
	if u.User != nil {
		return "", fmt.Errorf("credentials in URL are not allowed")
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", fmt.Errorf("URL has no host")
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && defaultPorts[scheme] != port {
		host += ":" + port
	}

	p := u.Path
	if p == "" {
		p = "/"
	}
	trailing := strings.HasSuffix(p, "/")
	p = path.Clean("/" + p)
	if trailing && p != "/" {
		p += "/"
	}
	return scheme + "://" + host + p, nil
}

// canonicalURLPattern applies the host and scheme normalization of
// canonicalURL to a glob. A trailing "/*" matches the whole subtree.
func canonicalURLPattern(pattern string) string {
	scheme, rest, ok := strings.Cut(pattern, "://")
	if !ok {
		return pattern
	}
	host, p, hasPath := strings.Cut(rest, "/")
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	scheme = strings.ToLower(scheme)
	if def, ok := defaultPorts[scheme]; ok {
		host = strings.TrimSuffix(host, ":"+def)
	}
	out := scheme + "://" + host
	if hasPath {
		out += "/" + p
	} else {
		out += "/"
	}
	if strings.HasSuffix(out, "/*") && !strings.HasSuffix(out, "/**") {
		out += "*"
	}
	return out
}

// canonicalCommand re-renders a command line with JoinCommandLine. A
// program containing a slash is a path: it is made absolute against cwd
// and resolved like any other path, so it only matches path rules.
func canonicalCommand(raw, cwd string, resolveSymlinks bool) (string, error) {
	argv, err := entities.SplitCommandLine(raw)
	if err != nil {
		return "", err
	}
	if len(argv) == 0 || argv[0] == "" {
		return "", fmt.Errorf("empty command")
	}
	if strings.ContainsRune(argv[0], '/') {
		program, err := canonicalPath(argv[0], cwd, resolveSymlinks)
		if err != nil {
			return "", fmt.Errorf("program %q: %w", argv[0], err)
		}
		argv[0] = program
	}
	return entities.JoinCommandLine(argv), nil
}

func canonicalName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("empty resource name")
	}
	return name, nil
}

// matchSubject returns the part of a canonical resource that patterns
// are matched against.
func matchSubject(kind entities.ActionKind, canonical string) string {
	if kind.Class() == entities.ResourceCommand {
		return entities.Program(canonical)
	}
	return canonical
}
