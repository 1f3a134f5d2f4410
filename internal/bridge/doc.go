// Package bridge implements the Bridge Client for the sibling execution
// engine.
//
// The bridge:
//   - Maintains a WebSocket connection to the engine's event stream
//   - Sanitizes non-standard JSON (bare Infinity/NaN literals)
//   - Translates the engine's native schema into the normalized schema
//   - Caches the latest status snapshot for read-only consumers
//   - Forwards ad-hoc commands to the engine's control endpoint
//   - Reconnects with exponential backoff, quietly while the engine is
//     still starting up
package bridge
