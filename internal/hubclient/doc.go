// Package hubclient calls an agent's control API the way the hub does.
//
// Every POST is signed with the shared site secret. The CLI uses it for the
// call subcommand and the server tests use it to exercise the full stack.
package hubclient
