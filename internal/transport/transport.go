// SPDX-License-Identifier: MIT
package transport

// Publisher delivers a status update to every open channel of a client.
// Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(clientID, status string) (delivered int, err error)
	Close() error
}

// StatusMessage is the wire form of a status update.
type StatusMessage struct {
	Status string `json:"status"`
}
