// Package secrets manages the agent's shared credentials: the site secret used
// to sign control API requests and the maintenance bypass code.
//
// Values are generated from crypto/rand over [A-Za-z0-9] and persisted in the
// agent record. Provision fills in whatever is missing and never overwrites an
// existing value; rotation is explicit.
package secrets
