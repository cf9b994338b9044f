// Package authflow drives one authorization run to completion or failure.
//
// Each authentication variant is a protocol flow behind a common contract:
// OAuth 2.0 authorization-code with a browser rendezvous, the OAuth 1.0a
// three-legged handshake, and direct validation of static bot/API tokens.
// A successful run persists exactly one AUTHENTICATED credential; every
// failure path (timeout, CSRF mismatch, provider error, rejected exchange)
// writes nothing.
//
// The browser rendezvous is a bounded synchronous wait on a single-shot
// loopback HTTP listener. The listener binds its fixed port before the
// browser is opened so a port conflict fails fast with an actionable message,
// accepts exactly one callback request, and shuts down unconditionally.
package authflow
