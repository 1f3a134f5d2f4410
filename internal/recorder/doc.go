// Package recorder persists normalized engine events to PostgreSQL. It is
// an optional consumer: the gateway wires it up only when a database is
// configured, and feeds it the same events the bridge emits. Rows are
// batched and flushed on size or on a timer, the same write path as the
// market data writers this package grew out of.
package recorder
