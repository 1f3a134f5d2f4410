// Package stream implements the market-data Stream Multiplexer.
//
// The multiplexer:
//   - Maintains one shared WebSocket connection to the combined feed
//   - Reference-counts per-topic subscriptions across consumers
//   - Sends SUBSCRIBE/UNSUBSCRIBE control frames on 0→1 and 1→0 transitions
//   - Fans out each data frame to every callback registered for its topic
//   - Reconnects with exponential backoff and re-issues all subscriptions
//   - Force-closes a silently stalled connection via a data watchdog
package stream
