// Package notifier delivers price messages to channel destinations.
//
// Unlike a fire-and-forget queue, Send returns only after the transport
// accepted or rejected the message: the poller commits its state on success
// only, so it must know the outcome.
//
// # Throttling
//
// A shared token bucket keeps the bot under Telegram's global send limit.
// Send waits for a token while its context allows.
//
// # History
//
// The service keeps a small in-memory history of recent deliveries for operators.
package notifier
