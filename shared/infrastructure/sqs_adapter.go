package infrastructure

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/pkg/errors"

	"github.com/orderstack/fulfillment-system/shared/events"
)

// SQSSubscriberAdapter exposes the SQS polling subscriber as an
// events.Subscriber. The SQS client and worker pools are created lazily on
// the first Subscribe call.
type SQSSubscriberAdapter struct {
	sqsSubscriber *SQSEventSubscriber
	awsCfg        AWSClientConfig
	queueURL      string
	opts          []SQSSubscriberOption
	isRunning     bool
}

// NewSQSSubscriberAdapter creates a subscriber adapter for the given queue
func NewSQSSubscriberAdapter(awsCfg AWSClientConfig, queueURL string, opts ...SQSSubscriberOption) (*SQSSubscriberAdapter, error) {
	if queueURL == "" {
		return nil, errors.New("queue URL is required")
	}
	return &SQSSubscriberAdapter{
		awsCfg:   awsCfg,
		queueURL: queueURL,
		opts:     opts,
	}, nil
}

// eventHandlerAdapter gives a plain events.EventHandler the identity the SQS
// subscriber requires. Handlers that already carry a HandlerID keep it.
type eventHandlerAdapter struct {
	handler events.EventHandler
}

func (a *eventHandlerAdapter) HandlerID() string {
	if identified, ok := a.handler.(interface{ HandlerID() string }); ok {
		return identified.HandlerID()
	}
	return "event-handler-adapter"
}

func (a *eventHandlerAdapter) Handle(ctx context.Context, event *events.Event) error {
	return a.handler.Handle(ctx, event)
}

// Subscribe implements events.Subscriber. The eventType argument is ignored,
// the queue delivers every event type and the handler dispatches on it.
func (s *SQSSubscriberAdapter) Subscribe(ctx context.Context, eventType string, handler events.EventHandler) error {
	if s.isRunning {
		return errors.New("subscriber is already running")
	}

	cfg, err := s.awsCfg.load(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load AWS config")
	}

	sqsClient := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if s.awsCfg.EndpointSQS != "" {
			o.BaseEndpoint = aws.String(s.awsCfg.EndpointSQS)
		}
	})

	s.sqsSubscriber = NewSQSEventSubscriber(sqsClient, s.queueURL, &eventHandlerAdapter{handler: handler}, s.opts...)

	if err := s.sqsSubscriber.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start SQS subscriber")
	}

	s.isRunning = true
	return nil
}

// Close stops the subscriber
func (s *SQSSubscriberAdapter) Close() error {
	if !s.isRunning || s.sqsSubscriber == nil {
		return nil
	}

	ctx := context.Background()
	if err := s.sqsSubscriber.Stop(ctx); err != nil {
		return errors.Wrap(err, "failed to stop SQS subscriber")
	}

	s.isRunning = false
	return nil
}
