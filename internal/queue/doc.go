// Package queue provides the FIFO work queue between the session and the
// orchestrator. Items are content segments and end-of-message markers.
package queue
