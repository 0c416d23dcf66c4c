// Package status reports the site's identity and health to the hub.
//
// Ping is static and unauthenticated. Status aggregates the stored flags, the
// bypass link and pending update counts supplied by a HostInfo collaborator.
// FileHost reads those counts from a JSON file the host application keeps
// current:
//
//	{"core": 1, "plugins": 3, "themes": 0, "host_version": "6.4.2"}
package status
