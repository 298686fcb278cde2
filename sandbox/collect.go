package sandbox

import "strings"

// Output is a drained session, for transports that answer once.
type Output struct {
	// Stdout concatenates the data of every Write message.
	Stdout     string
	ExitStatus int
	Messages   []Message
}

// Collect drains messages until the channel is closed. ExitStatus is -1
// if the stream ended without one.
func Collect(messages <-chan Message) Output {
	var (
		stdout strings.Builder
		out    = Output{ExitStatus: -1}
	)
	for msg := range messages {
		out.Messages = append(out.Messages, msg)
		switch m := msg.(type) {
		case Write:
			stdout.WriteString(m.Data)
		case ExitStatus:
			out.ExitStatus = m.Code
		case Control:
			// no text output
		}
	}
	out.Stdout = stdout.String()
	return out
}
