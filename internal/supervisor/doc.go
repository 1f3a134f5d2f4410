// Package supervisor runs the trading engine as a local child process and
// keeps it alive. It spawns the configured command, forwards the process
// output line by line into the gateway log, and restarts the engine with
// exponential backoff whenever it exits, for any reason, until the
// supervisor is stopped. Shutdown is graceful: the engine gets SIGTERM and
// a grace period before it is killed.
package supervisor
