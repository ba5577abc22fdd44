// Package protocol defines the wire format the relay speaks: one JSON-encoded
// Packet per newline-terminated line over a TCP stream. Binary payloads are
// embedded as base64, so a frame never contains an interior newline and a
// reader only ever needs delimiter-based line reads.
//
// The field spelling and the integer packet kinds are inherited from the
// legacy desktop clients and must stay stable.
package protocol
