/*
Package server manages the lifecycle of the service's HTTP servers.

Manager wraps net/http.Server with a non-blocking Start, a bounded graceful
Shutdown and WaitForShutdown, which waits for SIGINT/SIGTERM, context
cancellation or a serve error and then stops companion servers (the metrics
listener) before the main one.
*/
package server
