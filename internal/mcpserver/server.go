// Package mcpserver exposes the session operations as Model Context Protocol
// tools: run_python, install_package and release_session.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/p-arndt/sessionbox/internal/session"
)

const (
	serverName    = "sessionbox"
	serverVersion = "0.1.0"
	endpointPath  = "/mcp"
)

// SessionService is the subset of session.Manager the tools call.
type SessionService interface {
	Execute(ctx context.Context, req session.ExecuteRequest) (*session.ExecutionResult, error)
	Install(ctx context.Context, sessionID, pkg string) (*session.InstallResult, error)
	Release(ctx context.Context, sessionID string)
}

type MCPServer struct {
	sessions  SessionService
	logger    *zap.Logger
	mcpServer *server.MCPServer
}

func New(sessions SessionService, logger *zap.Logger) *MCPServer {
	s := &MCPServer{
		sessions: sessions,
		logger:   logger,
		mcpServer: server.NewMCPServer(serverName, serverVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery()),
	}

	s.mcpServer.AddTool(mcp.NewTool("run_python",
		mcp.WithDescription("Run Python source in a persistent per-session sandbox. Files written by earlier runs in the same session are still there."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Caller-chosen session identifier")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Python source of the entry script")),
		mcp.WithString("file_name", mcp.Description("Entry script file name, default script.py")),
		mcp.WithString("source_dir", mcp.Description("Absolute host directory whose files are copied next to the script")),
	), s.handleRunPython)

	s.mcpServer.AddTool(mcp.NewTool("install_package",
		mcp.WithDescription("pip install a package into the session's interpreter environment"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Caller-chosen session identifier")),
		mcp.WithString("package_name", mcp.Required(), mcp.Description("Requirement specifier, e.g. requests==2.32.0")),
	), s.handleInstallPackage)

	s.mcpServer.AddTool(mcp.NewTool("release_session",
		mcp.WithDescription("Tear down the session sandbox and delete its files"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to release")),
	), s.handleReleaseSession)

	return s
}

func (s *MCPServer) handleRunPython(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sourceDir := request.GetString("source_dir", "")
	if sourceDir != "" && !filepath.IsAbs(sourceDir) {
		return mcp.NewToolResultError("source_dir must be an absolute path"), nil
	}

	s.logger.Info("run_python requested", zap.String("session_id", sessionID))
	result, err := s.sessions.Execute(ctx, session.ExecuteRequest{
		SessionID: sessionID,
		Content:   content,
		FileName:  request.GetString("file_name", ""),
		SourceDir: sourceDir,
	})
	if err != nil {
		return s.toolError("run_python", sessionID, err), nil
	}

	s.logger.Info("run_python completed",
		zap.String("session_id", sessionID),
		zap.Int("exit_code", result.ExitCode),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)))
	return mcp.NewToolResultJSON(result)
}

func (s *MCPServer) handleInstallPackage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pkg, err := request.RequireString("package_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.logger.Info("install_package requested", zap.String("session_id", sessionID), zap.String("package", pkg))
	result, err := s.sessions.Install(ctx, sessionID, pkg)
	if err != nil {
		return s.toolError("install_package", sessionID, err), nil
	}
	return mcp.NewToolResultJSON(result)
}

func (s *MCPServer) handleReleaseSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.sessions.Release(ctx, sessionID)
	return mcp.NewToolResultText(`{"status":"cleaned up"}`), nil
}

// toolError reports service errors inside the result so the model sees them.
func (s *MCPServer) toolError(tool, sessionID string, err error) *mcp.CallToolResult {
	s.logger.Error(tool+" failed", zap.String("session_id", sessionID), zap.Error(err))
	switch {
	case errors.Is(err, session.ErrEnvironmentUnavailable):
		return mcp.NewToolResultError("no execution environment available on this host")
	case errors.Is(err, session.ErrInvalidRequest):
		return mcp.NewToolResultError(err.Error())
	default:
		return mcp.NewToolResultError(fmt.Sprintf("Execution failed: %v", err))
	}
}

// Handler serves the tools over streamable HTTP at /mcp.
func (s *MCPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(endpointPath, server.NewStreamableHTTPServer(s.mcpServer, server.WithEndpointPath(endpointPath)))
	return mux
}

// ServeStdio serves the tools on stdin/stdout until EOF.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// GetMCPServer returns the underlying MCP server.
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
