package model

import "time"

// QueueEntry is a pending session request in an astrologer's queue.
type QueueEntry struct {
	RequesterID      string       `json:"userId"`
	Requester        *Participant `json:"user,omitempty"`
	Type             SessionType  `json:"sessionType"`
	RequestedMinutes int          `json:"requestedMinutes"`
	Position         int          `json:"queuePosition"`
	ArrivedAt        time.Time    `json:"arrivedAt,omitempty"`
}
