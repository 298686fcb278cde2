package sandbox

import (
	"encoding/json"
	"maps"
)

// Kind discriminates the Message variants.
type Kind string

const (
	KindWrite      Kind = "write"
	KindControl    Kind = "control"
	KindExitStatus Kind = "exitstatus"
)

// StreamStdout is the only stream currently reported; the sandbox's stdout
// and stderr arrive combined.
const StreamStdout = "stdout"

// Message is one element of a session's output. It is one of Write,
// Control or ExitStatus.
type Message interface {
	Kind() Kind
	isMessage()
}

// Write is one line of plain program output, trailing newline included
// (the last line of a stream may lack it).
type Write struct {
	Stream string
	Data   string
}

// Control is a structured event decoded from a sentinel line.
// Payload holds every field of the decoded object except "msgtype".
type Control struct {
	Type    string
	Payload map[string]any
}

// ExitStatus is always the final message of a session.
type ExitStatus struct {
	Code int
}

func (Write) Kind() Kind      { return KindWrite }
func (Control) Kind() Kind    { return KindControl }
func (ExitStatus) Kind() Kind { return KindExitStatus }

func (Write) isMessage()      {}
func (Control) isMessage()    {}
func (ExitStatus) isMessage() {}

// MarshalJSON renders {"msgtype":"write","stream":...,"data":...}.
func (w Write) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MsgType string `json:"msgtype"`
		Stream  string `json:"stream"`
		Data    string `json:"data"`
	}{string(KindWrite), w.Stream, w.Data})
}

// MarshalJSON renders the payload fields next to "msgtype": <Type>.
func (c Control) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Payload)+1)
	maps.Copy(out, c.Payload)
	out["msgtype"] = c.Type
	return json.Marshal(out)
}

// MarshalJSON renders {"msgtype":"exitstatus","exitstatus":<code>}.
func (e ExitStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MsgType    string `json:"msgtype"`
		ExitStatus int    `json:"exitstatus"`
	}{string(KindExitStatus), e.Code})
}
