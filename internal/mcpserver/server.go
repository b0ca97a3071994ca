// Package mcpserver exposes the renderer's transport actions as MCP tools
// over a JSON-RPC stdio stream.
package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go2tv.app/render-bridge/internal/domain"
	"go2tv.app/render-bridge/internal/history"
	"go2tv.app/render-bridge/internal/relay"
	"go2tv.app/render-bridge/internal/renderer"
)

// Transport is the AVTransport action surface.
type Transport interface {
	SetAVTransportURI(instanceID uint32, uri, metadata string) error
	Play(instanceID uint32, speed string) error
	Pause(instanceID uint32) error
	Stop(instanceID uint32) error
	GetTransportInfo(instanceID uint32) (renderer.TransportInfo, error)
	GetMediaInfo(instanceID uint32) (renderer.MediaInfo, error)
	GetPositionInfo(instanceID uint32) (renderer.PositionInfo, error)
	PollLastChange() []byte
}

type RelayTargets interface {
	ListDevices(ctx context.Context, timeout time.Duration, includeUnreachable bool) ([]domain.Device, error)
}

type RelayBinder interface {
	Bind(ctx context.Context, target, protocol string) (relay.Session, error)
	Current() (relay.Session, bool)
	Close(ctx context.Context) error
}

type LaunchHistory interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

type Config struct {
	ServerName    string
	ServerVersion string
	Logger        *slog.Logger
	Transport     Transport
	RelayTargets  RelayTargets
	RelayBinder   RelayBinder
	History       LaunchHistory
}

type Server struct {
	in     *bufio.Reader
	out    *bufio.Writer
	cfg    Config
	logger *slog.Logger
	tools  []tool
	calls  map[string]toolHandler

	// The first message fixes the output framing for the session.
	modeOnce sync.Once
	mode     wireMode
}

func New(in io.Reader, out io.Writer, cfg Config) *Server {
	if cfg.ServerName == "" {
		cfg.ServerName = "render-bridge"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}

	s := &Server{
		in:     bufio.NewReader(in),
		out:    bufio.NewWriter(out),
		cfg:    cfg,
		logger: cfg.Logger,
	}
	s.tools, s.calls = s.registerTools()
	return s
}

// Run serves requests until the input ends or ctx is canceled. EOF is a
// clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			s.logLifecycle(slog.LevelInfo, "mcp_context_done", slog.String("reason", err.Error()))
			return err
		}

		payload, mode, err := readMessage(s.in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logLifecycle(slog.LevelInfo, "mcp_stream_eof")
				return nil
			}
			s.logLifecycle(slog.LevelError, "mcp_read_error", slog.String("error", err.Error()))
			return err
		}
		s.modeOnce.Do(func() {
			s.mode = mode
			s.logLifecycle(slog.LevelDebug, "mcp_output_mode", slog.String("mode", mode.String()))
		})
		s.logLifecycle(slog.LevelDebug, "mcp_message_received", slog.Int("bytes", len(payload)))

		if err := s.handle(ctx, payload); err != nil {
			s.logLifecycle(slog.LevelError, "mcp_handle_error", slog.String("error", err.Error()))
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, payload []byte) error {
	startedAt := time.Now()

	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logCall("parse", startedAt, "-32700")
		return s.send(errorResponse(nil, codeParseError, "parse error"))
	}

	// Notifications get no reply.
	if len(req.ID) == 0 {
		return nil
	}

	if req.JSONRPC != "" && req.JSONRPC != jsonrpcVersion {
		s.logCall(req.Method, startedAt, "-32600")
		return s.send(errorResponse(req.ID, codeInvalidRequest, "invalid request"))
	}

	switch req.Method {
	case "initialize":
		s.logCall(req.Method, startedAt, "")
		return s.send(resultResponse(req.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			ServerInfo: map[string]string{
				"name":    s.cfg.ServerName,
				"version": s.cfg.ServerVersion,
			},
			Instructions: "AVTransport media renderer. Call set_av_transport_uri, then play. Poll poll_last_change for state events.",
		}))
	case "ping":
		return s.send(resultResponse(req.ID, map[string]any{}))
	case "tools/list":
		s.logCall(req.Method, startedAt, "")
		return s.send(resultResponse(req.ID, toolsListResult{Tools: s.tools}))
	case "tools/call":
		return s.handleToolCall(ctx, req.ID, req.Params)
	default:
		s.logCall(req.Method, startedAt, "-32601")
		return s.send(errorResponse(req.ID, codeMethodNotFound, "method not found"))
	}
}

func (s *Server) handleToolCall(ctx context.Context, id, rawParams json.RawMessage) error {
	startedAt := time.Now()

	params, err := decodeToolCallParams(rawParams)
	if err != nil {
		s.logCall("tools/call", startedAt, "-32602")
		return s.send(errorResponse(id, codeInvalidParams, "invalid params"))
	}

	call, ok := s.calls[params.Name]
	if !ok {
		s.logCall(params.Name, startedAt, "TOOL_NOT_FOUND")
		return s.send(resultResponse(id, toolErrorResult("TOOL_NOT_FOUND", "unknown tool: "+params.Name, nil)))
	}

	result, err := call(ctx, params.Arguments)
	if err != nil {
		var invalid *invalidParamsError
		if errors.As(err, &invalid) {
			s.logCall(params.Name, startedAt, "-32602")
			return s.send(errorResponse(id, codeInvalidParams, "invalid params: "+invalid.reason))
		}
		result = toolErrorResultFromError(err)
		s.logCall(params.Name, startedAt, errorCode(err))
		return s.send(resultResponse(id, result))
	}

	s.logCall(params.Name, startedAt, "")
	return s.send(resultResponse(id, result))
}

// decodeToolCallParams accepts both {"name", "arguments"} and arguments
// flattened next to the name.
func decodeToolCallParams(raw json.RawMessage) (toolsCallParams, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return toolsCallParams{}, err
	}

	var name string
	if rawName, ok := fields["name"]; ok {
		if err := json.Unmarshal(rawName, &name); err != nil {
			return toolsCallParams{}, err
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return toolsCallParams{}, errors.New("missing tool name")
	}

	arguments, ok := fields["arguments"]
	if !ok {
		delete(fields, "name")
		delete(fields, "_meta")
		if len(fields) > 0 {
			flattened, err := json.Marshal(fields)
			if err != nil {
				return toolsCallParams{}, err
			}
			arguments = flattened
		}
	}
	if len(arguments) == 0 || string(arguments) == "null" {
		arguments = json.RawMessage("{}")
	}
	return toolsCallParams{Name: name, Arguments: arguments}, nil
}

func (s *Server) send(resp response) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	s.logLifecycle(slog.LevelDebug, "mcp_send", slog.Int("bytes", len(encoded)))
	return writeMessage(s.out, s.mode, encoded)
}

func (s *Server) logCall(method string, startedAt time.Time, errorCode string) {
	if s.logger == nil {
		return
	}
	level := slog.LevelInfo
	if errorCode != "" {
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "mcp_call",
		slog.String("method", strings.TrimSpace(method)),
		slog.Int64("duration_ms", time.Since(startedAt).Milliseconds()),
		slog.String("error_code", errorCode),
	)
}

func (s *Server) logLifecycle(level slog.Level, msg string, attrs ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Log(context.Background(), level, msg, attrs...)
}
