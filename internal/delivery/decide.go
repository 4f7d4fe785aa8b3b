// Package delivery decides when a polled price is worth sending and keeps
// the per-destination state that decision depends on.
package delivery

import "time"

// State is what a destination last received. The zero value means nothing
// was sent yet: no price and an epoch-zero LastSentAt.
type State struct {
	LastPrice  float64   `json:"last_price"`
	HasPrice   bool      `json:"has_price"`
	LastSentAt time.Time `json:"last_sent_at"`
}

// Decision is the outcome of Decide.
type Decision struct {
	Send         bool
	Changed      bool
	HeartbeatDue bool
}

// Decide is a pure function: a price is sent when it differs from the last
// delivered one, or when heartbeat has elapsed since the last delivery.
//
// Prices compare with exact float64 equality.
func Decide(current float64, last State, now time.Time, heartbeat time.Duration) Decision {
	changed := !last.HasPrice || current != last.LastPrice
	// now.Sub saturates for a zero LastSentAt, so a fresh key is always due.
	due := now.Sub(last.LastSentAt) >= heartbeat
	return Decision{Send: changed || due, Changed: changed, HeartbeatDue: due}
}

// Sent returns the state to commit after a successful delivery.
func Sent(price float64, at time.Time) State {
	return State{LastPrice: price, HasPrice: true, LastSentAt: at}
}
