// Package notify delivers messages to external collaborators.
//
// Client speaks to an HTTP service rooted at a base URL. Sinks adapt a
// transport (HTTP or ZeroMQ) to a single Send call, and Notifier queues
// messages and delivers them in the background so callers never wait on
// the network.
package notify
