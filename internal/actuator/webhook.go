package actuator

import (
	"context"
	"fmt"
	"time"

	"wisefido-drowsiness/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookActuator 通过 HTTP POST 通知外部系统（车队管理平台等）
type WebhookActuator struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookActuator 创建 Webhook 执行器
func NewWebhookActuator(url string, timeout time.Duration, logger *zap.Logger) *WebhookActuator {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookActuator{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// AlertOn 发送 alert-on
func (a *WebhookActuator) AlertOn(ctx context.Context, event models.AlertEvent) error {
	return a.post(ctx, event)
}

// AlertOff 发送 alert-off
func (a *WebhookActuator) AlertOff(ctx context.Context, event models.AlertEvent) error {
	return a.post(ctx, event)
}

func (a *WebhookActuator) post(ctx context.Context, event models.AlertEvent) error {
	resp, err := a.httpClient.R().
		SetContext(ctx).
		SetBody(event).
		Post(a.url)
	if err != nil {
		return fmt.Errorf("failed to call alert webhook: %w", err)
	}
	if resp.IsError() {
		a.logger.Warn("Alert webhook returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("type", string(event.Type)),
		)
		return fmt.Errorf("alert webhook error: status %d", resp.StatusCode())
	}
	return nil
}
