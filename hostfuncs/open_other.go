//go:build !unix

package hostfuncs

const noFollow = 0
