// Package options is the typed view over the agent's persisted state.
//
// The AgentConfig record lives as one JSON object under the mrwp_agent key
// of a store.ConfigStore. Decoding is lenient: absent or mistyped fields
// fall back to their zero value, and keys this package does not know are
// carried through every write.
//
// Journal keeps bounded append-only lists next to the record for the API
// activity log, the email log and debug notices.
package options
