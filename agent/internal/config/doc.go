// Package config loads the vigil-agent configuration file.
//
// Top-level types:
//   - Config{Agent}: full config tree parsed from YAML
//   - AgentConfig: server_url, probe_id, node_id, replica_id, interval,
//     buffer_size, flush_on_exit, log_level, server_auth
//   - AuthConfig: reporter token (literal or token_env) plus optional
//     client certificate, CA and insecure_skip_verify for TLS
//
// Load(path) reads the YAML file, applies defaults (30s interval, 16 report
// buffer, hostname as replica_id), then validates required fields.
package config
