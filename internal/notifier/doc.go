// Package notifier delivers owner notifications about firing outcomes.
//
// Notify is fire-and-forget: messages go onto a bounded queue and are sent by a
// small worker pool behind a token-bucket limiter, with retry and backoff. A
// failed delivery is logged and published on the bus; it never fails the caller.
//
// # Sinks
//
// The sink is picked from the address:
//
//	tg:<chat id>   Telegram bot message
//	user@host      email through AWS SES
//	anything else  the log sink
//
// An empty address falls back to Config.DefaultAddress.
package notifier
