// Package ardlink provides the shared core of the ardlink protocol: a
// reliable, authenticated, line-oriented application protocol between a host
// controller and a resource-constrained device over a raw byte-stream
// transport such as a serial link.
//
// # Protocol Overview
//
// The transport offers nothing beyond in-order bytes, so all meaning is
// carried by newline-delimited text lines, whitespace-trimmed on receipt.
// A session starts unauthenticated; the host drives a four-line handshake:
//
//	host   → device  "Send your username:"        (challenge)
//	device → host    <identity>                   (claimed identity)
//	host   → device  "AUTH_SUCCESS"               (grants trust)
//	device → host    "Authentication confirmed"   (handshake complete)
//
// Identity comparison is byte-exact. After the handshake, any line from the
// host is a command; any line from the device is either the response to the
// single in-flight command or an unsolicited broadcast datum.
//
// This package defines the wire literals, the line and identity rules, the
// Transport abstraction with its pluggable endpoint discovery, the error
// taxonomy, the host connection state machine, and the task manager used to
// supervise protocol goroutines. The device and host endpoints are
// implemented by the device and host packages respectively.
package ardlink
