// Package audit records access events in the access_logs table.
//
// Logins, logouts, registrations, door commands and admin actions are
// written through a Writer, which queues entries on a buffered channel so
// HTTP handlers never wait on the database. The Repository serves the
// paginated admin listing.
package audit
