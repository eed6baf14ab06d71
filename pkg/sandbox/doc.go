// Package sandbox defines the contract between the MCP tools and a remote
// sandbox service. A Service creates sandboxes; a Sandbox exposes code
// execution, a filesystem, and a command runner.
//
// Implementations live in subpackages: e2b talks to the hosted E2B API,
// selfhosted talks to cmd/sandbox-server pods reached through a static URL
// or agent-sandbox SandboxClaims.
//
// This package has no external dependencies.
package sandbox
