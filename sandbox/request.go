package sandbox

// File is an auxiliary file placed next to the code in the workspace.
type File struct {
	Filename string `json:"filename"`
	Contents string `json:"contents"`
}

// Request describes one execution. It is treated as immutable once handed
// to the executor.
type Request struct {
	Runtime string `json:"runtime"`
	Code    string `json:"code"`
	// CodeFilename overrides the runtime's default code filename.
	CodeFilename string `json:"code_filename,omitempty"`
	// Files are written in order after the code; a later entry with the same
	// filename replaces an earlier one, and may also replace the code file.
	Files []File            `json:"files,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
	// Command overrides the runtime's default command when non-empty.
	Command []string `json:"command,omitempty"`
	// Archive is an optional tar.gz unpacked into the workspace before
	// the code and files are written.
	Archive []byte `json:"-"`
}
