// Package actions dispatches the closed set of state-changing operations the
// hub may invoke: toggle_maintenance, reset_bypass, toggle_debug and
// send_bypass_email.
//
// Every dispatch yields a fresh Result. Component failures that carry a
// caller-facing reason become ok:false results; anything else is logged and
// reported as a generic internal error.
package actions
