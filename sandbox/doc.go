// Package sandbox runs untrusted code snippets in ephemeral containers and
// streams the output back as an ordered sequence of typed messages.
//
// A request goes through four stages owned by a single Session: the
// workspace is staged on the host, a container is launched with the
// workspace bind-mounted and fixed resource ceilings applied, the
// container's combined output is reassembled into lines and demultiplexed
// into Write and Control messages, and finally the exit status is reported
// as the last message before the container and workspace are removed.
//
// Lines beginning with the sentinel (by default "--MSG--") carry a JSON
// object with a "msgtype" field and become Control messages; every other
// line becomes a Write message.
//
// Usage:
//
//	executor, err := sandbox.NewExecutor(logger, cfg, registry)
//	messages, err := executor.Execute(ctx, sandbox.Request{
//	    Runtime: "python",
//	    Code:    "print('hi')",
//	})
//	for msg := range messages {
//	    // Write, Control ... ExitStatus
//	}
package sandbox
