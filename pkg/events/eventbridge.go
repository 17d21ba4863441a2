package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

// putEventsBatchSize is the PutEvents entry limit.
const putEventsBatchSize = 10

// EventBridgeAPI is the subset of the EventBridge client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

var _ EventBridgeAPI = (*eventbridge.Client)(nil)

// EventBridgeForwarder publishes local events to an EventBridge bus as JSON.
type EventBridgeForwarder struct {
	client       EventBridgeAPI
	eventBusName string
	source       string
	logger       *zap.Logger
	now          func() time.Time
}

// NewEventBridgeForwarder creates a forwarder writing to eventBusName with
// the given source.
func NewEventBridgeForwarder(client EventBridgeAPI, eventBusName, source string, logger *zap.Logger) *EventBridgeForwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBridgeForwarder{
		client:       client,
		eventBusName: eventBusName,
		source:       source,
		logger:       logger,
		now:          time.Now,
	}
}

// Publish sends events under detailType, splitting into batches of 10.
func (f *EventBridgeForwarder) Publish(ctx context.Context, detailType string, events ...interface{}) error {
	for i := 0; i < len(events); i += putEventsBatchSize {
		end := i + putEventsBatchSize
		if end > len(events) {
			end = len(events)
		}
		if err := f.publishBatch(ctx, detailType, events[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (f *EventBridgeForwarder) publishBatch(ctx context.Context, detailType string, batch []interface{}) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(batch))
	for _, event := range batch {
		detail, err := json.Marshal(event)
		if err != nil {
			f.logger.Error("Failed to marshal event", zap.String("detail_type", detailType), zap.Error(err))
			continue
		}
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(f.eventBusName),
			Source:       aws.String(f.source),
			DetailType:   aws.String(detailType),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(f.now()),
		})
	}
	if len(entries) == 0 {
		return nil
	}

	result, err := f.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to publish events to EventBridge: %w", err)
	}
	if result.FailedEntryCount > 0 {
		for _, entry := range result.Entries {
			if entry.ErrorCode != nil {
				f.logger.Error("Failed to publish event",
					zap.String("detail_type", detailType),
					zap.String("error_code", aws.ToString(entry.ErrorCode)),
					zap.String("error_message", aws.ToString(entry.ErrorMessage)))
			}
		}
		return fmt.Errorf("%d events failed to publish", result.FailedEntryCount)
	}

	f.logger.Debug("Events published to EventBridge",
		zap.Int("count", len(entries)),
		zap.String("event_bus", f.eventBusName))
	return nil
}

// Forward subscribes f to every E emitted on bus. The detail type is the
// event's type name.
func Forward[E any](b *Bus, f *EventBridgeForwarder) (unsubscribe func()) {
	detailType := typelist.Name(typelist.Of[E]())
	return Subscribe(b, func(ctx context.Context, event *E) error {
		return f.Publish(ctx, detailType, event)
	})
}
