// Package database provides the PostgreSQL connection pool used by the
// event recorder. The gateway runs fine without a database; the pool is
// only opened when recording is configured.
package database
