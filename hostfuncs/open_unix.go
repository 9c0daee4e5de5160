//go:build unix

package hostfuncs

import "syscall"

// noFollow refuses to open a path whose final component is a symlink.
const noFollow = syscall.O_NOFOLLOW
