// Package mcpserver exposes the execution pipeline as Model Context Protocol
// tools.
//
// The execute_code tool runs one request through a sandbox.SandboxExecutor,
// waits for the session to finish and answers with a JSON document holding
// the combined output, the exit status and any control messages the program
// emitted. list_runtimes returns the configured runtime names. The protocol
// itself is handled by mark3labs/mcp-go over stdio or streamable HTTP.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, executor, registry)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
