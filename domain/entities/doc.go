// Package entities holds the value types of the authorization core:
// action kinds and risk levels, capability tokens and their scopes,
// execution manifests, budget state, audit events and the policy
// configuration document.
//
// Entities carry no locks and no behavior that reaches outside the
// process. The stores that own them live in the application layer.
package entities
