package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/livecode/config"
	"github.com/isdmx/livecode/runtimes"
	"github.com/isdmx/livecode/sandbox"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config      *config.Config
	logger      *zap.Logger
	sandboxExec sandbox.SandboxExecutor
	registry    *runtimes.Registry
	mcpServer   *server.MCPServer
}

// ExecuteResult is the JSON document returned by the execute_code tool.
type ExecuteResult struct {
	Stdout     string            `json:"stdout"`
	ExitStatus int               `json:"exit_status"`
	Controls   []sandbox.Message `json:"controls,omitempty"`
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, sandboxExec sandbox.SandboxExecutor, registry *runtimes.Registry) (*MCPServer, error) {
	s := &MCPServer{
		config:      cfg,
		logger:      logger,
		sandboxExec: sandboxExec,
		registry:    registry,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.String("sandbox.backend", s.config.Sandbox.Backend),
		zap.Int("sandbox.timeout_sec", s.config.Sandbox.TimeoutSec),
		zap.Int("sandbox.memory_mb", s.config.Sandbox.MemoryMB),
		zap.Bool("sandbox.network_enabled", s.config.Sandbox.NetworkEnabled),
		zap.Bool("sandbox.enable_local_backend", s.config.Sandbox.EnableLocalBackend),
		zap.Strings("runtimes", registry.Names()),
	)

	s.mcpServer = server.NewMCPServer("livecode-executor", "Sandboxed code execution with streamed output")

	s.registerExecuteCodeTool()
	s.registerListRuntimesTool()

	return s, nil
}

// registerExecuteCodeTool registers the execute_code tool
func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Execute untrusted code in a sandboxed environment",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"runtime": map[string]any{
					"type":        "string",
					"description": "Runtime to execute the code with",
					"enum":        s.registry.Names(),
				},
				"code": map[string]any{
					"type":        "string",
					"description": "User-provided source code",
				},
				"code_filename": map[string]any{
					"type":        "string",
					"description": "Filename for the code, defaults to the runtime's",
				},
				"files": map[string]any{
					"type":        "array",
					"description": "Additional files written next to the code, in order",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"filename": map[string]any{"type": "string"},
							"contents": map[string]any{"type": "string"},
						},
						"required": []string{"filename", "contents"},
					},
				},
				"env": map[string]any{
					"type":                 "object",
					"description":          "Extra environment variables",
					"additionalProperties": map[string]any{"type": "string"},
				},
				"command": map[string]any{
					"type":        "array",
					"description": "Command overriding the runtime's default",
					"items":       map[string]any{"type": "string"},
				},
				"workdir_tar": map[string]any{
					"type":        "string",
					"description": "Base64-encoded tar.gz of initial working directory (optional)",
				},
			},
			Required: []string{"runtime", "code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

func (s *MCPServer) registerListRuntimesTool() {
	tool := mcp.Tool{
		Name:        "list_runtimes",
		Description: "List the runtimes code can be executed with",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleListRuntimes)
}

func (s *MCPServer) handleListRuntimes(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: strings.Join(s.registry.Names(), "\n"),
			},
		},
	}, nil
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := s.parseRequest(request)
	if err != nil {
		return nil, err
	}

	s.logger.Info("executing code in sandbox",
		zap.String("runtime", req.Runtime),
		zap.Int("files", len(req.Files)),
		zap.Bool("has_workdir", len(req.Archive) > 0))

	messages, err := s.sandboxExec.Execute(ctx, req)
	if err != nil {
		s.logger.Error("sandbox execution failed",
			zap.Error(err),
			zap.String("runtime", req.Runtime))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Execution failed: %v", err),
				},
			},
			IsError: true,
		}, nil
	}

	out := sandbox.Collect(messages)
	result := ExecuteResult{Stdout: out.Stdout, ExitStatus: out.ExitStatus}
	for _, msg := range out.Messages {
		if msg.Kind() == sandbox.KindControl {
			result.Controls = append(result.Controls, msg)
		}
	}

	s.logger.Info("code execution completed",
		zap.String("runtime", req.Runtime),
		zap.Int("exit_status", result.ExitStatus),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("controls", len(result.Controls)))

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(resultJSON),
			},
		},
	}, nil
}

func (s *MCPServer) parseRequest(request mcp.CallToolRequest) (sandbox.Request, error) {
	runtime, err := request.RequireString("runtime")
	if err != nil {
		return sandbox.Request{}, fmt.Errorf("runtime parameter is required: %w", err)
	}
	if !s.registry.Has(runtime) {
		return sandbox.Request{}, fmt.Errorf("invalid runtime: %s, must be one of: %s",
			runtime, strings.Join(s.registry.Names(), ", "))
	}

	code, err := request.RequireString("code")
	if err != nil {
		return sandbox.Request{}, fmt.Errorf("code parameter is required: %w", err)
	}

	req := sandbox.Request{
		Runtime:      runtime,
		Code:         code,
		CodeFilename: request.GetString("code_filename", ""),
	}

	args := request.GetArguments()
	if req.Files, err = filesArg(args["files"]); err != nil {
		return sandbox.Request{}, err
	}
	if req.Env, err = envArg(args["env"]); err != nil {
		return sandbox.Request{}, err
	}
	if req.Command, err = commandArg(args["command"]); err != nil {
		return sandbox.Request{}, err
	}

	if workdirTar := request.GetString("workdir_tar", ""); workdirTar != "" {
		decoded, decodeErr := base64.StdEncoding.DecodeString(workdirTar)
		if decodeErr != nil {
			return sandbox.Request{}, fmt.Errorf("failed to decode workdir_tar: %w", decodeErr)
		}
		req.Archive = decoded
	}

	return req, nil
}

func filesArg(v any) ([]sandbox.File, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("files must be an array")
	}

	files := make([]sandbox.File, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("files[%d] must be an object", i)
		}
		name, ok := obj["filename"].(string)
		if !ok {
			return nil, fmt.Errorf("files[%d].filename must be a string", i)
		}
		contents, ok := obj["contents"].(string)
		if !ok {
			return nil, fmt.Errorf("files[%d].contents must be a string", i)
		}
		files = append(files, sandbox.File{Filename: name, Contents: contents})
	}
	return files, nil
}

func envArg(v any) (map[string]string, error) {
	if v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("env must be an object")
	}

	env := make(map[string]string, len(obj))
	for k, val := range obj {
		str, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("env.%s must be a string", k)
		}
		env[k] = str
	}
	return env, nil
}

func commandArg(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("command must be an array of strings")
	}

	cmd := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("command must be an array of strings")
		}
		cmd = append(cmd, str)
	}
	return cmd, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
