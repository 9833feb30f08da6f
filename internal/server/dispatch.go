// Package server exposes the orchestrator over its messaging boundary: an
// in-process dispatcher, a JSON RPC endpoint and a websocket hub for remote
// tabs.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/raphaelgruber/jobpilot/internal/models"
	"github.com/raphaelgruber/jobpilot/internal/service"
)

// Dispatcher routes message envelopes to the coordinator and the assistant
// gateway.
type Dispatcher struct {
	coord   *service.Coordinator
	gateway *service.AssistantGateway
	logger  *slog.Logger
	handler Handler
}

// NewDispatcher creates a dispatcher. Middleware runs outermost first.
func NewDispatcher(coord *service.Coordinator, gateway *service.AssistantGateway, logger *slog.Logger, mw ...Middleware) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{coord: coord, gateway: gateway, logger: logger}
	h := d.route
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	d.handler = h
	return d
}

// Dispatch handles msg and returns the reply envelope. It never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, msg models.Message) (resp models.Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked", "type", msg.Type, "panic", r, "stack", string(debug.Stack()))
			resp = failure(msg.ID, fmt.Errorf("internal error: %v", r))
		}
	}()
	resp = d.handler(ctx, msg)
	resp.ID = msg.ID
	return resp
}

func (d *Dispatcher) route(ctx context.Context, msg models.Message) models.Response {
	data, err := d.handle(ctx, msg)
	if err != nil {
		return failure(msg.ID, err)
	}
	return success(msg.ID, data)
}

func (d *Dispatcher) handle(ctx context.Context, msg models.Message) (any, error) {
	switch msg.Type {
	case models.MsgRegisterTab:
		var p models.RegisterTabPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		role, ok := models.ParseRole(p.Role)
		if !ok {
			return nil, fmt.Errorf("unknown role %q", p.Role)
		}
		return d.coord.RegisterTab(msg.TabID, role, p.Platform), nil

	case models.MsgJobListFound:
		var p models.JobListPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		d.coord.HandleJobListFound(ctx, p.Jobs)
		return nil, nil

	case models.MsgProxyPrompt:
		var p models.PromptPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		return d.gateway.Ask(ctx, p.Prompt, msg.TabID)

	case models.MsgReportJobStatus:
		var p models.ReportStatusPayload
		if err := decodePayload(msg, &p); err != nil {
			return nil, err
		}
		status, ok := models.ParseJobStatus(p.Status)
		if !ok {
			return nil, fmt.Errorf("%w: %q", service.ErrInvalidStatus, p.Status)
		}
		return nil, d.coord.ReportStatus(ctx, status, msg.TabID, p.Message)

	case models.MsgGetStats:
		return d.coord.Stats(), nil

	case models.MsgGetConfig:
		return d.coord.Settings().Get(), nil

	case models.MsgUpdateConfig:
		var patch models.SettingsPatch
		if err := decodePayload(msg, &patch); err != nil {
			return nil, err
		}
		return d.coord.Settings().Update(patch), nil

	case models.MsgStartAutomation:
		return nil, d.coord.StartAutomation(ctx)

	case models.MsgStopAutomation:
		d.coord.StopAutomation(ctx)
		return nil, nil

	case models.MsgFetchJobs:
		return nil, d.coord.FetchJobs(ctx)

	case models.MsgClearCache:
		return d.coord.ClearCache(ctx), nil

	case models.MsgTabClosed:
		d.coord.UnregisterTab(ctx, msg.TabID)
		return true, nil
	}
	return nil, fmt.Errorf("unknown message type %q", msg.Type)
}

func decodePayload(msg models.Message, out any) error {
	if len(msg.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		return fmt.Errorf("invalid %s payload: %w", msg.Type, err)
	}
	return nil
}

func success(id string, data any) models.Response {
	raw, err := json.Marshal(data)
	if err != nil {
		return failure(id, fmt.Errorf("encode response: %w", err))
	}
	return models.Response{ID: id, Success: true, Data: raw}
}

func failure(id string, err error) models.Response {
	return models.Response{ID: id, Success: false, Error: err.Error()}
}
