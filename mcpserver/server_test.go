package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/livecode/config"
	"github.com/isdmx/livecode/runtimes"
	"github.com/isdmx/livecode/sandbox"
)

// MockSandboxExecutor implements sandbox.SandboxExecutor for testing
type MockSandboxExecutor struct {
	messages     []sandbox.Message
	executeError error
	lastRequest  sandbox.Request
}

func (m *MockSandboxExecutor) Execute(_ context.Context, req sandbox.Request) (<-chan sandbox.Message, error) {
	m.lastRequest = req
	if m.executeError != nil {
		return nil, m.executeError
	}
	ch := make(chan sandbox.Message, len(m.messages))
	for _, msg := range m.messages {
		ch <- msg
	}
	close(ch)
	return ch, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Transport: "stdio",
			HTTPPort:  8080,
		},
		Sandbox: config.SandboxConfig{
			Backend:    "docker",
			TimeoutSec: 10,
			MemoryMB:   100,
		},
		Logging: config.LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func testRegistry() *runtimes.Registry {
	return runtimes.FromMap(map[string]config.Runtime{
		"python":        {Image: "python:3.11-slim", Command: []string{"python", "main.py"}, CodeFilename: "main.py"},
		"python-canvas": {Image: "livecode-python-canvas", CodeFilename: "main.py"},
	})
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = "execute_code"
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewMCPServer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testConfig()
	mockExecutor := &MockSandboxExecutor{}

	server, err := New(cfg, logger, mockExecutor, testRegistry())
	require.NoError(t, err)
	require.NotNil(t, server)
	assert.Equal(t, cfg, server.config)
	assert.Equal(t, logger, server.logger)
	assert.Equal(t, mockExecutor, server.sandboxExec)
	assert.NotNil(t, server.GetMCPServer())
}

func TestHandleExecuteCode(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockExecutor := &MockSandboxExecutor{
			messages: []sandbox.Message{
				sandbox.Write{Stream: sandbox.StreamStdout, Data: "hi\n"},
				sandbox.Control{Type: "draw", Payload: map[string]any{"function": "circle"}},
				sandbox.Write{Stream: sandbox.StreamStdout, Data: "bye\n"},
				sandbox.ExitStatus{Code: 0},
			},
		}
		server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor, testRegistry())
		require.NoError(t, err)

		result, err := server.handleExecuteCode(context.Background(), callRequest(map[string]any{
			"runtime":       "python-canvas",
			"code":          "circle(1, 1, 1)",
			"code_filename": "app.py",
			"files": []any{
				map[string]any{"filename": "a.txt", "contents": "A"},
			},
			"env":     map[string]any{"DEBUG": "1"},
			"command": []any{"python", "app.py"},
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		var raw map[string]any
		text := resultText(t, result)
		require.NoError(t, json.Unmarshal([]byte(text), &raw))
		assert.Equal(t, "hi\nbye\n", raw["stdout"])
		assert.Equal(t, float64(0), raw["exit_status"])
		assert.Equal(t, []any{map[string]any{"msgtype": "draw", "function": "circle"}}, raw["controls"])

		req := mockExecutor.lastRequest
		assert.Equal(t, "python-canvas", req.Runtime)
		assert.Equal(t, "app.py", req.CodeFilename)
		assert.Equal(t, []sandbox.File{{Filename: "a.txt", Contents: "A"}}, req.Files)
		assert.Equal(t, map[string]string{"DEBUG": "1"}, req.Env)
		assert.Equal(t, []string{"python", "app.py"}, req.Command)
	})

	t.Run("WorkdirTarDecoded", func(t *testing.T) {
		mockExecutor := &MockSandboxExecutor{messages: []sandbox.Message{sandbox.ExitStatus{Code: 0}}}
		server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor, testRegistry())
		require.NoError(t, err)

		_, err = server.handleExecuteCode(context.Background(), callRequest(map[string]any{
			"runtime":     "python",
			"code":        "print(1)",
			"workdir_tar": base64.StdEncoding.EncodeToString([]byte("archive")),
		}))
		require.NoError(t, err)
		assert.Equal(t, []byte("archive"), mockExecutor.lastRequest.Archive)
	})

	t.Run("ExecutionErrorIsToolError", func(t *testing.T) {
		mockExecutor := &MockSandboxExecutor{executeError: errors.New("sandbox launch failed: no such image")}
		server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor, testRegistry())
		require.NoError(t, err)

		result, err := server.handleExecuteCode(context.Background(), callRequest(map[string]any{
			"runtime": "python",
			"code":    "print(1)",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "no such image")
	})

	invalid := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{
			name:    "MissingRuntime",
			args:    map[string]any{"code": "x"},
			wantErr: "runtime parameter is required",
		},
		{
			name:    "UnknownRuntime",
			args:    map[string]any{"runtime": "cobol", "code": "x"},
			wantErr: "invalid runtime: cobol",
		},
		{
			name:    "MissingCode",
			args:    map[string]any{"runtime": "python"},
			wantErr: "code parameter is required",
		},
		{
			name:    "FilesNotArray",
			args:    map[string]any{"runtime": "python", "code": "x", "files": "a.txt"},
			wantErr: "files must be an array",
		},
		{
			name:    "FileWithoutContents",
			args:    map[string]any{"runtime": "python", "code": "x", "files": []any{map[string]any{"filename": "a"}}},
			wantErr: "files[0].contents must be a string",
		},
		{
			name:    "EnvNotStrings",
			args:    map[string]any{"runtime": "python", "code": "x", "env": map[string]any{"N": 1}},
			wantErr: "env.N must be a string",
		},
		{
			name:    "CommandNotStrings",
			args:    map[string]any{"runtime": "python", "code": "x", "command": []any{"python", 3}},
			wantErr: "command must be an array of strings",
		},
		{
			name:    "BadBase64",
			args:    map[string]any{"runtime": "python", "code": "x", "workdir_tar": "!!!"},
			wantErr: "failed to decode workdir_tar",
		},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			mockExecutor := &MockSandboxExecutor{}
			server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor, testRegistry())
			require.NoError(t, err)

			_, err = server.handleExecuteCode(context.Background(), callRequest(tt.args))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHandleListRuntimes(t *testing.T) {
	server, err := New(testConfig(), zaptest.NewLogger(t), &MockSandboxExecutor{}, testRegistry())
	require.NoError(t, err)

	result, err := server.handleListRuntimes(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.Equal(t, "python\npython-canvas", resultText(t, result))
}
