package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"go2tv.app/render-bridge/internal/domain"
)

const (
	defaultListTimeoutMS = 5000
	minListTimeoutMS     = 100
	defaultHistoryLimit  = 20
	maxHistoryLimit      = 500
)

type toolHandler func(ctx context.Context, args json.RawMessage) (toolCallResult, error)

type invalidParamsError struct {
	reason string
}

func (e *invalidParamsError) Error() string { return "invalid params: " + e.reason }

func invalidParams(format string, args ...any) error {
	return &invalidParamsError{reason: fmt.Sprintf(format, args...)}
}

var errNotConfigured = errors.New("not configured")

// instanceArgs is embedded by every transport action. A missing instance_id
// addresses instance 0.
type instanceArgs struct {
	InstanceID *int64 `json:"instance_id,omitempty"`
}

// id returns the addressed instance. Values no instance can carry fail with
// the same fault as an unknown instance.
func (a instanceArgs) id() (uint32, error) {
	if a.InstanceID == nil {
		return 0, nil
	}
	v := *a.InstanceID
	if v < 0 || v > math.MaxUint32 {
		return 0, domain.InvalidInstance(v)
	}
	return uint32(v), nil
}

func (s *Server) registerTools() ([]tool, map[string]toolHandler) {
	type entry struct {
		tool    tool
		handler toolHandler
	}
	entries := []entry{
		{transportTool("set_av_transport_uri", "Set the media URI (and optional DIDL-Lite metadata) the renderer will play. Resets the transport to STOPPED.",
			map[string]any{
				"uri":      map[string]any{"type": "string", "description": "Media URL. An empty string clears the current source."},
				"metadata": map[string]any{"type": "string", "description": "DIDL-Lite metadata for the URI."},
			}, "uri"), s.callSetURI},
		{transportTool("play", "Start or resume playback of the current URI.",
			map[string]any{
				"speed": map[string]any{"type": "string", "default": "1", "description": "Transport play speed."},
			}), s.callPlay},
		{transportTool("pause", "Pause playback.", nil), s.callPause},
		{transportTool("stop", "Stop playback. The current URI is kept.", nil), s.callStop},
		{transportTool("get_transport_info", "Return the transport state, status and speed.", nil), s.callTransportInfo},
		{transportTool("get_media_info", "Return the current URI, its metadata and the media duration.", nil), s.callMediaInfo},
		{transportTool("get_position_info", "Return the track URI, duration and relative/absolute position.", nil), s.callPositionInfo},
		{tool{
			Name:        "poll_last_change",
			Description: "Return the oldest pending LastChange event document, or nothing when no state changed.",
			InputSchema: objectSchema(nil),
		}, s.callPollLastChange},
		{tool{
			Name:        "list_relay_targets",
			Description: "Discover Chromecast and DLNA devices the renderer can relay playback to.",
			InputSchema: objectSchema(map[string]any{
				"timeout_ms":          map[string]any{"type": "integer", "minimum": minListTimeoutMS, "default": defaultListTimeoutMS},
				"include_unreachable": map[string]any{"type": "boolean", "default": false},
			}),
		}, s.callListTargets},
		{tool{
			Name:        "bind_relay",
			Description: "Relay playback to a discovered device. Replaces the current relay.",
			InputSchema: objectSchema(map[string]any{
				"target":   map[string]any{"type": "string", "description": "Device ID, name or address from list_relay_targets."},
				"protocol": map[string]any{"type": "string", "enum": []string{domain.ProtocolChromecast, domain.ProtocolDLNA}},
			}, "target"),
		}, s.callBindRelay},
		{tool{
			Name:        "release_relay",
			Description: "Stop relaying and unbind the device.",
			InputSchema: objectSchema(nil),
		}, s.callReleaseRelay},
		{tool{
			Name:        "recent_launches",
			Description: "List the sources the renderer started most recently.",
			InputSchema: objectSchema(map[string]any{
				"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": maxHistoryLimit, "default": defaultHistoryLimit},
			}),
		}, s.callRecentLaunches},
	}

	tools := make([]tool, 0, len(entries))
	calls := make(map[string]toolHandler, len(entries))
	for _, e := range entries {
		tools = append(tools, e.tool)
		calls[e.tool.Name] = e.handler
	}
	return tools, calls
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func transportTool(name, description string, properties map[string]any, required ...string) tool {
	props := map[string]any{
		"instance_id": map[string]any{"type": "integer", "default": 0, "description": "AVTransport instance. Only 0 exists."},
	}
	for k, v := range properties {
		props[k] = v
	}
	return tool{Name: name, Description: description, InputSchema: objectSchema(props, required...)}
}

func (s *Server) transport() (Transport, error) {
	if s.cfg.Transport == nil {
		return nil, fmt.Errorf("transport: %w", errNotConfigured)
	}
	return s.cfg.Transport, nil
}

func (s *Server) callSetURI(_ context.Context, raw json.RawMessage) (toolCallResult, error) {
	var args struct {
		instanceArgs
		URI      *string `json:"uri"`
		Metadata string  `json:"metadata,omitempty"`
	}
	if err := decodeStrict(raw, &args); err != nil {
		return toolCallResult{}, invalidParams("%v", err)
	}
	if args.URI == nil {
		return toolCallResult{}, invalidParams("uri is required")
	}
	t, err := s.transport()
	if err != nil {
		return toolCallResult{}, err
	}
	id, err := args.id()
	if err != nil {
		return toolCallResult{}, err
	}
	uri := strings.TrimSpace(*args.URI)
	if err := t.SetAVTransportURI(id, uri, args.Metadata); err != nil {
		return toolCallResult{}, err
	}
	return s.transportStateResult(id, "AVTransportURI set.")
}

func (s *Server) callPlay(_ context.Context, raw json.RawMessage) (toolCallResult, error) {
	var args struct {
		instanceArgs
		Speed string `json:"speed,omitempty"`
	}
	if err := decodeStrict(raw, &args); err != nil {
		return toolCallResult{}, invalidParams("%v", err)
	}
	t, err := s.transport()
	if err != nil {
		return toolCallResult{}, err
	}
	id, err := args.id()
	if err != nil {
		return toolCallResult{}, err
	}
	if err := t.Play(id, strings.TrimSpace(args.Speed)); err != nil {
		return toolCallResult{}, err
	}
	return s.transportStateResult(id, "Play requested.")
}

func (s *Server) callPause(_ context.Context, raw json.RawMessage) (toolCallResult, error) {
	return s.simpleAction(raw, "Pause requested.", func(t Transport, id uint32) error { return t.Pause(id) })
}

func (s *Server) callStop(_ context.Context, raw json.RawMessage) (toolCallResult, error) {
	return s.simpleAction(raw, "Stop requested.", func(t Transport, id uint32) error { return t.Stop(id) })
}

func (s *Server) simpleAction(raw json.RawMessage, summary string, action func(Transport, uint32) error) (toolCallResult, error) {
	var args instanceArgs
	if err := decodeStrict(raw, &args); err != nil {
		return toolCallResult{}, invalidParams("%v", err)
	}
	t, err := s.transport()
	if err != nil {
		return toolCallResult{}, err
	}
	id, err := args.id()
	if err != nil {
		return toolCallResult{}, err
	}
	if err := action(t, id); err != nil {
		return toolCallResult{}, err
	}
	return s.transportStateResult(id, summary)
}

// transportStateResult answers an action with the transport state it left
// behind.
func (s *Server) transportStateResult(instanceID uint32, summary string) (toolCallResult, error) {
	info, err := s.cfg.Transport.GetTransportInfo(instanceID)
	if err != nil {
		return toolCallResult{}, err
	}
	return textResult(summary+" TransportState="+info.CurrentTransportState, info), nil
}

func (s *Server) callTransportInfo(_ context.Context, raw json.RawMessage) (toolCallResult, error) {
	var args instanceArgs
	if err := decodeStrict(raw, &args); err != nil {
		return toolCallResult{}, invalidParams("%v", err)
	}
	t, err := s.transport()
	if err != nil {
		return toolCallResult{}, err
	}
	id, err := args.id()
	if err != nil {
		return toolCallResult{}, err
	}
	info, err := t.GetTransportInfo(id)
	if err != nil {
		return toolCallResult{}, err
	}
	text := fmt.Sprintf("CurrentTransportState=%s CurrentTransportStatus=%s CurrentSpeed=%s",
		info.CurrentTransportState, info.CurrentTransportStatus, info.CurrentSpeed)
	return textResult(text, info), nil
}

func (s *Server) callMediaInfo(_ context.Context, raw json.RawMessage) (toolCallResult, error) {
	var args instanceArgs
	if err := decodeStrict(raw, &args); err != nil {
		return toolCallResult{}, invalidParams("%v", err)
	}
	t, err := s.transport()
	if err != nil {
		return toolCallResult{}, err
	}
	id, err := args.id()
	if err != nil {
		return toolCallResult{}, err
	}
	info, err := t.GetMediaInfo(id)
	if err != nil {
		return toolCallResult{}, err
	}
	text := fmt.Sprintf("CurrentURI=%s MediaDuration=%s", info.CurrentURI, info.MediaDuration)
	return textResult(text, info), nil
}

func (s *Server) callPositionInfo(_ context.Context, raw json.RawMessage) (toolCallResult, error) {
	var args instanceArgs
	if err := decodeStrict(raw, &args); err != nil {
		return toolCallResult{}, invalidParams("%v", err)
	}
	t, err := s.transport()
	if err != nil {
		return toolCallResult{}, err
	}
	id, err := args.id()
	if err != nil {
		return toolCallResult{}, err
	}
	info, err := t.GetPositionInfo(id)
	if err != nil {
		return toolCallResult{}, err
	}
	text := fmt.Sprintf("RelTime=%s TrackDuration=%s", info.RelTime, info.TrackDuration)
	return textResult(text, info), nil
}

func (s *Server) callPollLastChange(_ context.Context, raw json.RawMessage) (toolCallResult, error) {
	if err := decodeStrict(raw, &struct{}{}); err != nil {
		return toolCallResult{}, invalidParams("%v", err)
	}
	t, err := s.transport()
	if err != nil {
		return toolCallResult{}, err
	}
	payload := t.PollLastChange()
	if len(payload) == 0 {
		return textResult("No pending LastChange event.", map[string]any{"pending": false}), nil
	}
	return textResult(string(payload), map[string]any{"pending": true, "last_change": string(payload)}), nil
}

func (s *Server) callListTargets(ctx context.Context, raw json.RawMessage) (toolCallResult, error) {
	var args struct {
		TimeoutMS          *int `json:"timeout_ms,omitempty"`
		IncludeUnreachable bool `json:"include_unreachable,omitempty"`
	}
	if err := decodeStrict(raw, &args); err != nil {
		return toolCallResult{}, invalidParams("%v", err)
	}
	timeoutMS := defaultListTimeoutMS
	if args.TimeoutMS != nil {
		if *args.TimeoutMS < minListTimeoutMS {
			return toolCallResult{}, invalidParams("timeout_ms must be at least %d", minListTimeoutMS)
		}
		timeoutMS = *args.TimeoutMS
	}
	if s.cfg.RelayTargets == nil {
		return toolCallResult{}, fmt.Errorf("discovery: %w", errNotConfigured)
	}

	found, err := s.cfg.RelayTargets.ListDevices(ctx, time.Duration(timeoutMS)*time.Millisecond, args.IncludeUnreachable)
	if err != nil {
		return toolCallResult{}, err
	}
	var text strings.Builder
	fmt.Fprintf(&text, "Discovered %d device(s).", len(found))
	for i, dev := range found {
		fmt.Fprintf(&text, "\n%d. id=%s name=%s protocol=%s address=%s", i+1, dev.ID, dev.Name, dev.Protocol, dev.Address)
	}
	return textResult(text.String(), map[string]any{"count": len(found), "devices": found}), nil
}

func (s *Server) callBindRelay(ctx context.Context, raw json.RawMessage) (toolCallResult, error) {
	var args struct {
		Target   string `json:"target"`
		Protocol string `json:"protocol,omitempty"`
	}
	if err := decodeStrict(raw, &args); err != nil {
		return toolCallResult{}, invalidParams("%v", err)
	}
	args.Target = strings.TrimSpace(args.Target)
	args.Protocol = strings.ToLower(strings.TrimSpace(args.Protocol))
	if args.Target == "" {
		return toolCallResult{}, invalidParams("target is required")
	}
	if args.Protocol != "" && args.Protocol != domain.ProtocolChromecast && args.Protocol != domain.ProtocolDLNA {
		return toolCallResult{}, invalidParams("unsupported protocol %q", args.Protocol)
	}
	if s.cfg.RelayBinder == nil {
		return toolCallResult{}, fmt.Errorf("relay: %w", errNotConfigured)
	}

	sess, err := s.cfg.RelayBinder.Bind(ctx, args.Target, args.Protocol)
	if err != nil {
		return toolCallResult{}, err
	}
	text := fmt.Sprintf("Relaying to %s (%s, session %s).", sess.Device.Name, sess.Device.Protocol, sess.ID)
	return textResult(text, sess), nil
}

func (s *Server) callReleaseRelay(ctx context.Context, raw json.RawMessage) (toolCallResult, error) {
	if err := decodeStrict(raw, &struct{}{}); err != nil {
		return toolCallResult{}, invalidParams("%v", err)
	}
	if s.cfg.RelayBinder == nil {
		return toolCallResult{}, fmt.Errorf("relay: %w", errNotConfigured)
	}
	sess, ok := s.cfg.RelayBinder.Current()
	if !ok {
		return textResult("No relay is bound.", map[string]any{"released": false}), nil
	}
	if err := s.cfg.RelayBinder.Close(ctx); err != nil {
		return toolCallResult{}, err
	}
	return textResult("Released relay session "+sess.ID+".", map[string]any{"released": true, "session_id": sess.ID}), nil
}

func (s *Server) callRecentLaunches(ctx context.Context, raw json.RawMessage) (toolCallResult, error) {
	var args struct {
		Limit *int `json:"limit,omitempty"`
	}
	if err := decodeStrict(raw, &args); err != nil {
		return toolCallResult{}, invalidParams("%v", err)
	}
	limit := defaultHistoryLimit
	if args.Limit != nil {
		if *args.Limit < 1 || *args.Limit > maxHistoryLimit {
			return toolCallResult{}, invalidParams("limit must be between 1 and %d", maxHistoryLimit)
		}
		limit = *args.Limit
	}
	if s.cfg.History == nil {
		return toolCallResult{}, fmt.Errorf("history: %w", errNotConfigured)
	}

	entries, err := s.cfg.History.Recent(ctx, limit)
	if err != nil {
		return toolCallResult{}, err
	}
	var text strings.Builder
	fmt.Fprintf(&text, "%d launch(es).", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&text, "\n%s %s", e.At.Format(time.RFC3339), e.URI)
	}
	return textResult(text.String(), map[string]any{"count": len(entries), "launches": entries}), nil
}

func decodeStrict(raw json.RawMessage, out any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return err
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after arguments")
	}
	return nil
}

func toolErrorResult(code, message string, details map[string]any) toolCallResult {
	body := map[string]any{"code": code, "message": message}
	if len(details) > 0 {
		body["details"] = details
	}
	return toolCallResult{
		Content:           []toolContent{{Type: "text", Text: code + ": " + message}},
		StructuredContent: map[string]any{"error": body},
		IsError:           true,
	}
}

// toolErrorResultFromError renders AVTransport faults with their numeric
// code; anything else is an internal error.
func toolErrorResultFromError(err error) toolCallResult {
	var fault *domain.Fault
	if errors.As(err, &fault) && fault != nil {
		return toolErrorResult(strconv.Itoa(fault.Code), fault.Description, fault.Details)
	}
	return toolErrorResult("INTERNAL_ERROR", err.Error(), nil)
}

func errorCode(err error) string {
	var fault *domain.Fault
	if errors.As(err, &fault) && fault != nil {
		return strconv.Itoa(fault.Code)
	}
	return "INTERNAL_ERROR"
}
