package entities

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// JoinCommandLine renders argv as a single resource string. Arguments
// that are empty, contain whitespace or start with a double quote are
// written as Go string literals, so SplitCommandLine recovers argv
// exactly and distinct argv never share a rendering.
func JoinCommandLine(argv []string) string {
	var b strings.Builder
	for i, arg := range argv {
		if i > 0 {
			b.WriteByte(' ')
		}
		if needsQuoting(arg) {
			b.WriteString(strconv.Quote(arg))
		} else {
			b.WriteString(arg)
		}
	}
	return b.String()
}

func needsQuoting(arg string) bool {
	if arg == "" || strings.HasPrefix(arg, `"`) || !utf8.ValidString(arg) {
		return true
	}
	return strings.IndexFunc(arg, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r)
	}) >= 0
}

// SplitCommandLine parses a command line written by JoinCommandLine, or
// a plain whitespace-separated one. A field that starts with a double
// quote must be a complete Go string literal.
func SplitCommandLine(commandLine string) ([]string, error) {
	var argv []string
	rest := commandLine
	for {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		if rest == "" {
			return argv, nil
		}
		if rest[0] == '"' {
			quoted, err := strconv.QuotedPrefix(rest)
			if err != nil {
				return nil, fmt.Errorf("unterminated quoted argument in %q", commandLine)
			}
			arg, err := strconv.Unquote(quoted)
			if err != nil {
				return nil, fmt.Errorf("invalid quoted argument %s: %w", quoted, err)
			}
			rest = rest[len(quoted):]
			if r, _ := utf8.DecodeRuneInString(rest); rest != "" && !unicode.IsSpace(r) {
				return nil, fmt.Errorf("quoted argument %s must be followed by a space", quoted)
			}
			argv = append(argv, arg)
			continue
		}
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			end = len(rest)
		}
		argv = append(argv, rest[:end])
		rest = rest[end:]
	}
}

// Program returns argv[0] of a command line.
func Program(commandLine string) string {
	argv, err := SplitCommandLine(commandLine)
	if err != nil || len(argv) == 0 {
		fields := strings.Fields(commandLine)
		if len(fields) == 0 {
			return ""
		}
		return fields[0]
	}
	return argv[0]
}
