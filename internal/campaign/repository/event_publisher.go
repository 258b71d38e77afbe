package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/common/mq"
	appErr "rvcampaign/pkg/errors"
)

// EventFinished is published once per completed campaign.
const EventFinished = "campaign.finished"

// CampaignEvent is the payload of campaign events.
type CampaignEvent struct {
	Type      string               `json:"type"`
	Report    model.CampaignReport `json:"report"`
	CreatedAt int64                `json:"created_at"`
}

// EventPublisher announces finished campaigns.
type EventPublisher interface {
	PublishFinished(ctx context.Context, report model.CampaignReport) error
}

// MQEventPublisher publishes campaign events to a message queue.
type MQEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQEventPublisher creates a new MQ event publisher.
func NewMQEventPublisher(producer mq.Producer, topic string) *MQEventPublisher {
	return &MQEventPublisher{producer: producer, topic: topic}
}

// PublishFinished publishes a campaign-finished event keyed by campaign id.
func (p *MQEventPublisher) PublishFinished(ctx context.Context, report model.CampaignReport) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("event topic is required")
	}
	if report.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	payload, err := json.Marshal(CampaignEvent{Type: EventFinished, Report: report, CreatedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("marshal campaign event failed: %w", err)
	}
	message := mq.NewMessage(report.ID, payload)
	message.SetHeader("event", EventFinished)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "publish campaign event failed")
	}
	return nil
}

// StatusEventHandler stores the status carried by campaign events, so a
// status server can follow campaigns that run on other hosts.
func StatusEventHandler(repo *StatusRepository) mq.HandlerFunc {
	return func(ctx context.Context, message *mq.Message) error {
		var event CampaignEvent
		if err := json.Unmarshal(message.Body, &event); err != nil {
			// A malformed event will never decode; drop it.
			return nil
		}
		if event.Type != EventFinished {
			return nil
		}
		return repo.Save(ctx, model.StatusFromReport(event.Report, time.Unix(event.CreatedAt, 0).UTC()))
	}
}
