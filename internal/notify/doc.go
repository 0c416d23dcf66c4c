// Package notify delivers the agent's outbound messages.
//
// Service sends the maintenance bypass email, test emails and system alert
// emails through a Mailer and journals every attempt. SMTPMailer is the
// production Mailer.
//
// Alerter delivers system alerts (maintenance or debug toggled) off the
// request path: a single worker drains a bounded queue into each configured
// AlertSink. A full queue drops the alert.
package notify
