// Package notifier forwards post outcomes to an operator chat.
//
// It subscribes to the event bus and turns published/failed/tracking-finished
// events into small, high-signal Telegram messages. Delivery is best-effort:
// the bus drops events when the notifier falls behind, and send failures are
// logged rather than retried so a flaky admin chat never backs up publishing.
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of recently sent notifications, surfaced through /healthz.
package notifier
