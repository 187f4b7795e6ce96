package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pos-gateway/internal/auth"
	"pos-gateway/internal/models"
	"pos-gateway/internal/service"
	"pos-gateway/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const actionUnknown = "unknown"

// Request is the body of every gateway call
type Request struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Response is the envelope returned for every gateway call
type Response struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Authenticator verifies a signed request envelope
type Authenticator interface {
	Authenticate(ctx context.Context, env *auth.Envelope) (*models.IntegrationConfig, error)
}

// MenuPusher pushes menus to a POS
type MenuPusher interface {
	PushMenu(ctx context.Context, req *service.PushMenuRequest, cfg models.IntegrationConfig) (*service.MenuSyncResult, error)
}

// OrderSyncer ingests POS orders
type OrderSyncer interface {
	SyncOrder(ctx context.Context, req *service.SyncOrderRequest, cfg models.IntegrationConfig) (*service.OrderSyncResult, error)
	BatchSyncOrders(ctx context.Context, req *service.BatchSyncRequest, cfg models.IntegrationConfig) (*service.BatchSyncResult, error)
}

// WebhookHandler processes inbound vendor webhooks
type WebhookHandler interface {
	Handle(ctx context.Context, req *service.InboundWebhook, cfg models.IntegrationConfig) (*service.WebhookAck, error)
}

// Gateway authenticates POS requests and routes them by action
type Gateway struct {
	auth        Authenticator
	menu        MenuPusher
	orders      OrderSyncer
	webhooks    WebhookHandler
	syncLog     *service.SyncLogger
	development bool
	logger      *zap.Logger
}

// Option configures a Gateway
type Option func(*Gateway)

// WithDevelopment includes internal error details in 500 responses
func WithDevelopment(enabled bool) Option {
	return func(g *Gateway) {
		g.development = enabled
	}
}

// New creates a new gateway
func New(authenticator Authenticator, menu MenuPusher, orders OrderSyncer, webhooks WebhookHandler, syncLog *service.SyncLogger, opts ...Option) *Gateway {
	g := &Gateway{
		auth:     authenticator,
		menu:     menu,
		orders:   orders,
		webhooks: webhooks,
		syncLog:  syncLog,
		logger:   util.GetLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handle authenticates env and dispatches its action. It never returns nil.
func (g *Gateway) Handle(ctx context.Context, env *auth.Envelope) *Response {
	requestID := uuid.New().String()
	ctx, span := util.StartSpan(ctx, "Gateway.Handle",
		attribute.String("request_id", requestID))
	defer span.End()

	start := time.Now()
	action := actionUnknown
	resp := g.handle(ctx, env, &action)
	resp.RequestID = requestID

	span.SetAttributes(attribute.String("action", action), attribute.Int("code", resp.Code))
	util.GatewayRequestsTotal.WithLabelValues(action, strconv.Itoa(resp.Code)).Inc()
	util.GatewayRequestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	return resp
}

func (g *Gateway) handle(ctx context.Context, env *auth.Envelope, action *string) (resp *Response) {
	var req Request
	var cfg *models.IntegrationConfig

	defer func() {
		if r := recover(); r != nil {
			resp = g.unexpected(*action, req.Data, cfg, fmt.Errorf("panic: %v", r))
		}
	}()

	cfg, err := g.auth.Authenticate(ctx, env)
	if err != nil {
		var failure *auth.Failure
		if errors.As(err, &failure) {
			g.logger.Warn("Request rejected",
				zap.String("reason", string(failure.Reason)),
				zap.String("path", env.Path))
			return &Response{Code: service.CodeUnauthorized, Message: failure.Message}
		}
		return g.unexpected(*action, nil, nil, err)
	}

	if err := json.Unmarshal([]byte(env.Body), &req); err != nil {
		return &Response{Code: service.CodeBadRequest, Message: "invalid request body"}
	}
	if req.Action == "" {
		return &Response{Code: service.CodeBadRequest, Message: "missing required parameter: action"}
	}
	*action = req.Action

	data, message, err := g.dispatch(ctx, req, *cfg)
	if err != nil {
		var svcErr *service.Error
		if !errors.As(err, &svcErr) {
			return g.unexpected(*action, req.Data, cfg, err)
		}
		return g.failure(svcErr)
	}
	return &Response{Code: service.CodeOK, Message: message, Data: data}
}

func (g *Gateway) dispatch(ctx context.Context, req Request, cfg models.IntegrationConfig) (any, string, error) {
	switch req.Action {
	case models.ActionPushMenu:
		var in service.PushMenuRequest
		if err := decodeData(req, &in); err != nil {
			return nil, "", err
		}
		res, err := g.menu.PushMenu(ctx, &in, cfg)
		if err != nil {
			return nil, "", err
		}
		if res.TotalCount == 0 {
			return res, "no menu items to sync", nil
		}
		return res, "menu synced", nil

	case models.ActionSyncOrder:
		var in service.SyncOrderRequest
		if err := decodeData(req, &in); err != nil {
			return nil, "", err
		}
		res, err := g.orders.SyncOrder(ctx, &in, cfg)
		if err != nil {
			return nil, "", err
		}
		if res.Cached {
			return res, "order already processed", nil
		}
		return res, "order processed", nil

	case models.ActionBatchSyncOrders:
		var in service.BatchSyncRequest
		if err := decodeData(req, &in); err != nil {
			return nil, "", err
		}
		res, err := g.orders.BatchSyncOrders(ctx, &in, cfg)
		if err != nil {
			return nil, "", err
		}
		return res, "batch sync completed", nil

	case models.ActionHandleWebhook:
		var in service.InboundWebhook
		if err := decodeData(req, &in); err != nil {
			return nil, "", err
		}
		res, err := g.webhooks.Handle(ctx, &in, cfg)
		if err != nil {
			return nil, "", err
		}
		return res, "webhook processed", nil

	default:
		return nil, "", service.BadRequest("unknown action: %s", req.Action)
	}
}

func decodeData(req Request, v any) error {
	if len(req.Data) == 0 || string(req.Data) == "null" {
		return service.BadRequest("missing required parameter: data")
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return service.BadRequest("invalid data for %s", req.Action)
	}
	return nil
}

func (g *Gateway) failure(err *service.Error) *Response {
	resp := &Response{Code: err.Code, Message: err.Message}
	if err.Code == service.CodeInternal && g.development && err.Err != nil {
		resp.Error = err.Err.Error()
	}
	return resp
}

// unexpected answers an error no operation accounted for and records it in the sync log
func (g *Gateway) unexpected(action string, data json.RawMessage, cfg *models.IntegrationConfig, err error) *Response {
	g.logger.Error("Gateway request failed",
		zap.String("action", action),
		zap.Error(err))

	var logCfg models.IntegrationConfig
	if cfg != nil {
		logCfg = *cfg
	}
	if logCfg.RestaurantID == "" {
		logCfg.RestaurantID = restaurantIDOf(data)
	}
	g.syncLog.Failure(action, logCfg, nil, err, 0)

	resp := &Response{Code: service.CodeInternal, Message: "internal server error"}
	if g.development {
		resp.Error = err.Error()
	}
	return resp
}

func restaurantIDOf(data json.RawMessage) string {
	var peek struct {
		RestaurantID string `json:"restaurantId"`
	}
	if len(data) == 0 || json.Unmarshal(data, &peek) != nil {
		return ""
	}
	return peek.RestaurantID
}
