// Package api serves the hub-facing control API.
//
// Routes live under a configurable root (default /wp-json/mrwp/v1):
//
//	GET  /ping    public liveness identity
//	POST /status  signed, full status document
//	POST /action  signed, runs one action from the closed set
//
// Every response is JSON, including method mismatches and recovered panics.
// CORS headers name the configured hub origin and every call except
// preflights is recorded in the bounded API activity journal.
package api
