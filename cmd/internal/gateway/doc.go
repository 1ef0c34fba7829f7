// Package gateway is the HTTP side of gridlink: it checks credentials against
// the upstream server, creates and destroys sessions, and owns the session
// cookie.
//
// Every upstream failure is mapped onto a fixed taxonomy before it reaches
// the client. Messages never carry the upstream host, port or credentials.
package gateway
