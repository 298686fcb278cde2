// Package livecode serves the execution pipeline to browsers and scripts.
//
// Routes:
//
//	GET  /livecode           websocket; exchange msgtype-tagged JSON messages
//	POST /exec               JSON request, streamed plain text or JSON lines
//	POST /runtimes/{runtime} code or multipart files in, combined output out
//	GET  /runtimes           configured runtime names
//	GET  /health             liveness probe
//
// The websocket greets with {"msgtype":"welcome"}, answers "ping" with
// "pong" and "quit" with "goodbye". An "exec" message carries a request in
// the wire shape of sandbox.Request; every message of the session is
// forwarded as JSON and the connection is closed once the exit status has
// been sent.
//
// POST /runtimes/{runtime} reads its options from headers: X-Falcon-Env
// holds space separated KEY=VALUE pairs, X-Falcon-Mode is exported as
// FALCON_MODE and X-Falcon-Args replaces the runtime command (split with
// shell quoting rules). The response carries X-Falcon-Exit-Status and
// X-Falcon-Time-Taken headers.
package livecode
