// Package hostfuncs implements the gated tools exposed to a wasm guest.
// Every tool asks the session's ports.Authorizer before touching the
// host, and every failure is returned to the guest as a structured
// ErrorResponse instead of a trap. Nothing in this package depends on a
// wasm runtime.
package hostfuncs
