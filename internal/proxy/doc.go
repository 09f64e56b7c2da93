// Package proxy supervises the single local model-proxy child process.
//
// A Controller moves through Idle, Starting, Running and Stopping. Start
// spawns the configured command with the provider environment and waits for
// the proxy to accept TCP connections on its port; Stop asks it to exit with
// SIGTERM and kills it if it does not. Readers such as IsRunning never block
// behind a Start in progress.
package proxy
