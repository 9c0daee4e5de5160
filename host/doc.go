// Package host runs WebAssembly guests under a session's budget.
//
// A Runner owns one wazero runtime whose page limit is derived from the
// session memory ceiling. Guests are compiled once, checked against the
// ceiling by their declared memory, and each run holds an instance slot
// and inherits the session deadline.
package host
