// Package ports defines the interfaces between the authorization core
// and its collaborators: the policy store, the signer, the audit sink,
// the approval channel and the tool runtime.
// The core depends on these abstractions; infrastructure adapters
// implement them.
package ports
