package livecode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/isdmx/livecode/sandbox"
)

// Headers understood and set by POST /runtimes/{runtime}.
const (
	HeaderEnv        = "X-Falcon-Env"
	HeaderMode       = "X-Falcon-Mode"
	HeaderArgs       = "X-Falcon-Args"
	HeaderExitStatus = "X-Falcon-Exit-Status"
	HeaderTimeTaken  = "X-Falcon-Time-Taken"

	// ModeEnv receives the value of X-Falcon-Mode.
	ModeEnv = "FALCON_MODE"
)

type execRequest struct {
	sandbox.Request
	// RawOutput streams every message as a JSON line instead of only the
	// program output.
	RawOutput bool `json:"raw_output"`
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var body execRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	messages, err := s.executor.Execute(r.Context(), body.Request)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for msg := range messages {
		var werr error
		if body.RawOutput {
			werr = enc.Encode(msg)
		} else if m, ok := msg.(sandbox.Write); ok {
			_, werr = io.WriteString(w, m.Data)
		}
		if werr != nil {
			// The request context is cancelled once the client is gone.
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleRuntimeExec(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBody)
	req, err := runtimeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := s.executor.Execute(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	out := sandbox.Collect(messages)
	elapsed := time.Since(start)

	s.logger.Debug("runtime exec finished",
		zap.String("runtime", req.Runtime),
		zap.Int("exit_status", out.ExitStatus),
		zap.Duration("elapsed", elapsed))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(HeaderExitStatus, strconv.Itoa(out.ExitStatus))
	w.Header().Set(HeaderTimeTaken, strconv.FormatFloat(elapsed.Seconds(), 'f', -1, 64))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, out.Stdout)
}

// runtimeRequest builds a request from the path, headers and body of a
// POST /runtimes/{runtime} call.
func runtimeRequest(r *http.Request) (sandbox.Request, error) {
	req := sandbox.Request{Runtime: chi.URLParam(r, "runtime")}

	env, err := parseEnvHeader(r.Header.Get(HeaderEnv))
	if err != nil {
		return req, err
	}
	if mode := r.Header.Get(HeaderMode); mode != "" {
		if env == nil {
			env = make(map[string]string)
		}
		env[ModeEnv] = mode
	}
	req.Env = env

	if args := r.Header.Get(HeaderArgs); args != "" {
		req.Command, err = shlex.Split(args)
		if err != nil {
			return req, fmt.Errorf("invalid %s header: %w", HeaderArgs, err)
		}
	}

	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "multipart/form-data" {
		req.Files, err = readMultipartFiles(r)
		return req, err
	}

	code, err := io.ReadAll(r.Body)
	if err != nil {
		return req, fmt.Errorf("failed to read body: %w", err)
	}
	req.Code = string(code)
	return req, nil
}

// parseEnvHeader parses space separated KEY=VALUE pairs.
func parseEnvHeader(value string) (map[string]string, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(fields))
	for _, kv := range fields {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid %s entry %q, want KEY=VALUE", HeaderEnv, kv)
		}
		env[key] = val
	}
	return env, nil
}

// readMultipartFiles keeps the order of the uploaded parts. A part is named
// by its form field, falling back to the uploaded filename.
func readMultipartFiles(r *http.Request) ([]sandbox.File, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("failed to read multipart body: %w", err)
	}

	var files []sandbox.File
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read multipart body: %w", err)
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}

		name := part.FormName()
		if name == "" {
			name = part.FileName()
		}
		data, err := io.ReadAll(io.LimitReader(part, MaxRequestBody))
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read part %q: %w", name, err)
		}
		files = append(files, sandbox.File{Filename: name, Contents: string(data)})
	}
}
