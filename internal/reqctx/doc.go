// Package reqctx carries the per-request values the agent's components decide on.
//
// The HTTP layer builds a RequestContext once per request and passes it
// explicitly to the maintenance gate and the authenticator, so neither reads
// process-wide request state.
package reqctx
