// Package notifier delivers reminder and alert messages to chats.
//
// Reminders go through Deliver, which sends synchronously so the caller can
// record whether the message was accepted. Failure alerts go through Alert,
// which enqueues the message for a small supervised worker pool. Both paths
// share one token-bucket rate limit and the same retry policy.
//
// Chat ids are strings of the form "<chat_id>" or "<chat_id>:<thread_id>";
// an empty id selects Config.DefaultChat.
//
// # History
//
// For operator visibility the service keeps a short in-memory history of
// recently sent messages.
package notifier
