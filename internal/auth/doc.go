// Package auth decides how the CLI authenticates against the agent service.
//
// The Coordinator drives an api client through phone verification or
// static-key passthrough and keeps the persisted session in step. It never
// reads the terminal itself; the caller injects a CodePrompt.
package auth
