// Package shipper sends push reports to the vigil reporter API
// (POST /reporter/{probe}/{node}/).
//
// Shipper.Ship() is non-blocking: reports are placed in an in-memory channel.
// When the buffer is full the oldest entry is evicted so the latest load is
// always preserved.
//
// Shipper.Run() drains the buffer in a loop, retrying with truncated
// exponential backoff (1s→60s, ±25% jitter) on transport errors and 5xx
// answers. A 4xx answer (bad token, unknown node, wrong mode) discards the
// report immediately rather than retrying.
//
// Auth: the reporter token travels as the basic-auth password; TLS may add a
// client certificate and a private CA.
package shipper
