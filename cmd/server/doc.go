// Package main is the entry point for the livecode server.
//
// The server executes untrusted code snippets in ephemeral containers and
// streams their output back as typed messages. Depending on
// server.transport it serves the livecode HTTP/websocket API or exposes the
// same pipeline as an MCP tool over stdio or HTTP.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
