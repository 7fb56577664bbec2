// Package types defines shared Go types used by both the agent and server.
//
// Status and Mode are the canonical health vocabulary of the monitor; the
// Report* types are the JSON payloads the push reporter sends to the server's
// reporter API.
package types
