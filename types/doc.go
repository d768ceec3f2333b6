// Package types contains the shared data model of AgentMesh: agent
// identities, delegation-chain hops, run numbers, structured errors, and
// context helpers.
//
// The types package is the lowest-level package with no internal
// dependencies, so every other package can import it without creating
// circular imports.
package types
