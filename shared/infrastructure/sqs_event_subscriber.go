package infrastructure

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/orderstack/fulfillment-system/shared/events"
	"github.com/orderstack/fulfillment-system/shared/telemetry"
)

const (
	SQSMessageIDKey     = "sqs_message_id"
	SQSReceiptHandleKey = "sqs_receipt_handle"
)

// EventHandler is the handler contract the subscriber dispatches to. The ID
// distinguishes handlers in logs when several services share a queue.
type EventHandler interface {
	HandlerID() string
	Handle(ctx context.Context, event *events.Event) error
}

// messageJob carries one SQS message through the pipeline: the reader fills
// Message and Event, a worker fills HandleErr, the cleaner settles the
// message with SQS accordingly.
type messageJob struct {
	Message   types.Message
	Event     *events.Event
	HandleErr error
}

// SQSEventSubscriber polls an SQS queue and dispatches decoded events to a
// handler. Readers long-poll the queue, a worker pool runs the handler, and
// cleaners delete handled messages or push back the visibility timeout of
// failed ones so SQS redelivers them later.
type SQSEventSubscriber struct {
	mux     sync.Mutex
	pending chan *messageJob
	settled chan *messageJob
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	options *sqsSubscriberOptions

	client   *sqs.Client
	queueURL string
	handler  EventHandler
}

type sqsSubscriberOptions struct {
	name                           string
	workers                        int32
	readers                        int32
	cleaners                       int32
	maxNumberOfMessages            int32
	waitTimeSeconds                int32
	visibilityTimeout              int32
	sleepTimeAfterEmptyReceive     time.Duration
	sleepTimeAfterError            time.Duration
	ack                            bool
	extendVisibilityTimeoutOnError bool
	receiveCountRange              int32
	visibilityTimeoutOffset        int32
	maxVisibilityTimeout           int32
}

type SQSSubscriberOption func(*sqsSubscriberOptions)

func WithWorkers(workers int32) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		if workers > 0 {
			o.workers = workers
		}
	}
}

func WithReaders(readers int32) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		if readers > 0 {
			o.readers = readers
		}
	}
}

func WithVisibilityTimeout(timeout int32) SQSSubscriberOption {
	return func(o *sqsSubscriberOptions) {
		if timeout > 0 {
			o.visibilityTimeout = timeout
		}
	}
}

// NewSQSEventSubscriber creates a new SQS event subscriber
func NewSQSEventSubscriber(
	client *sqs.Client,
	queueURL string,
	handler EventHandler,
	opts ...SQSSubscriberOption,
) *SQSEventSubscriber {
	options := &sqsSubscriberOptions{
		name:                           "sqs",
		workers:                        30,
		readers:                        1,
		cleaners:                       2,
		maxNumberOfMessages:            5,
		waitTimeSeconds:                15,
		visibilityTimeout:              30,
		sleepTimeAfterEmptyReceive:     10 * time.Second,
		sleepTimeAfterError:            20 * time.Second,
		ack:                            true,
		extendVisibilityTimeoutOnError: true,
		receiveCountRange:              3,
		visibilityTimeoutOffset:        30,
		maxVisibilityTimeout:           900, // 15 minutes
	}

	for _, opt := range opts {
		opt(options)
	}

	return &SQSEventSubscriber{
		client:   client,
		queueURL: queueURL,
		handler:  handler,
		pending:  make(chan *messageJob, 10),
		settled:  make(chan *messageJob, 10),
		options:  options,
	}
}

// Start launches the reader, worker and cleaner goroutines. Calling Start
// on a running subscriber is a no-op.
func (s *SQSEventSubscriber) Start(ctx context.Context) error {
	if s.running.Load() {
		return nil
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	s.teardown()

	ctx, cancel := context.WithCancel(ctx)
	s.pending = make(chan *messageJob, 10)
	s.settled = make(chan *messageJob, 10)
	s.cancel = cancel

	for i := int32(0); i < s.options.workers; i++ {
		s.spawn(func() { s.runWorker(ctx) })
	}

	for i := int32(0); i < s.options.readers; i++ {
		s.spawn(func() { s.runReader(ctx) })
	}

	for i := int32(0); i < s.options.cleaners; i++ {
		s.spawn(func() { s.runCleaner(ctx) })
	}

	s.running.Store(true)

	return nil
}

// Stop cancels the goroutines and waits for them to drain
func (s *SQSEventSubscriber) Stop(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	s.teardown()
	s.cancel = nil
	s.pending = nil
	s.settled = nil
	s.running.Store(false)

	return nil
}

// teardown is called with s.mux held. The channels are never closed, a
// goroutine may be committed to a send when the cancel lands; in-flight
// messages reappear once their visibility timeout expires.
func (s *SQSEventSubscriber) teardown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// sleep waits for d unless the context is cancelled first
func (s *SQSEventSubscriber) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (s *SQSEventSubscriber) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *SQSEventSubscriber) runReader(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := s.read(ctx); err != nil {
				s.sleep(ctx, s.options.sleepTimeAfterError)
			}
		}
	}
}

func (s *SQSEventSubscriber) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.pending:
			s.handle(ctx, job)
		}
	}
}

func (s *SQSEventSubscriber) runCleaner(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.settled:
			if err := s.settle(ctx, job); err != nil {
				log.Printf("sqs subscriber %s: cleanup failed: %v", s.options.name, err)
			}
		}
	}
}

func (s *SQSEventSubscriber) read(ctx context.Context) error {
	output, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: s.options.maxNumberOfMessages,
		WaitTimeSeconds:     s.options.waitTimeSeconds,
		VisibilityTimeout:   s.options.visibilityTimeout,
		AttributeNames: []types.QueueAttributeName{
			"ApproximateReceiveCount",
			"ApproximateFirstReceiveTimestamp",
		},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return errors.Wrap(err, "failed to receive message from SQS")
	}

	if len(output.Messages) == 0 {
		s.sleep(ctx, s.options.sleepTimeAfterEmptyReceive)
		return nil
	}

	for _, message := range output.Messages {
		event, err := s.decode(message)
		if err != nil {
			log.Printf("sqs subscriber %s: skipping malformed message %s: %v", s.options.name, aws.ToString(message.MessageId), err)
			continue
		}

		select {
		case s.pending <- &messageJob{Message: message, Event: event}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// decode unmarshals the message body and folds the SQS delivery details into
// the event metadata so handlers can reach them if needed
func (s *SQSEventSubscriber) decode(message types.Message) (*events.Event, error) {
	var event *events.Event
	if err := json.Unmarshal([]byte(aws.ToString(message.Body)), &event); err != nil {
		return nil, err
	}
	if event == nil {
		return nil, errors.New("empty message body")
	}

	if event.Metadata == nil {
		event.Metadata = make(events.Metadata)
	}
	event.Metadata.Set(SQSMessageIDKey, aws.ToString(message.MessageId))
	if message.ReceiptHandle != nil {
		event.Metadata.Set(SQSReceiptHandleKey, *message.ReceiptHandle)
	}
	for k, v := range message.MessageAttributes {
		if v.StringValue != nil {
			event.Metadata.Set(k, *v.StringValue)
		}
	}

	return event, nil
}

// handle dispatches one job. The handler is fixed at construction, so no
// lock is needed here; taking s.mux would deadlock against Stop, which holds
// it while waiting for the pipeline to drain.
func (s *SQSEventSubscriber) handle(ctx context.Context, job *messageJob) {
	if s.handler == nil {
		job.HandleErr = errors.New("no handler configured")
	} else {
		job.HandleErr = s.handler.Handle(ctx, job.Event)
	}

	telemetry.RecordCounter(ctx, "fulfillment_events_consumed_total",
		"Number of events consumed from SQS",
		1,
		attribute.String("event_type", job.Event.EventType),
		attribute.Bool("success", job.HandleErr == nil),
	)

	select {
	case s.settled <- job:
	case <-ctx.Done():
	}
}

// settle deletes a handled message, or pushes back the visibility timeout of
// a failed one so the redelivery backs off as the receive count grows
func (s *SQSEventSubscriber) settle(ctx context.Context, job *messageJob) error {
	if job.HandleErr != nil {
		if !s.options.extendVisibilityTimeoutOnError {
			return nil
		}

		_, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          &s.queueURL,
			ReceiptHandle:     job.Message.ReceiptHandle,
			VisibilityTimeout: s.nextVisibilityTimeout(job.Message),
		})
		if err != nil {
			return errors.Wrap(err, "failed to extend visibility timeout")
		}
		return nil
	}

	if s.options.ack {
		_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &s.queueURL,
			ReceiptHandle: job.Message.ReceiptHandle,
		})
		if err != nil {
			return errors.Wrap(err, "failed to delete message from SQS")
		}
	}

	return nil
}

// nextVisibilityTimeout grows the timeout stepwise with the receive count,
// capped at maxVisibilityTimeout
func (s *SQSEventSubscriber) nextVisibilityTimeout(message types.Message) int32 {
	receiveCount, err := strconv.Atoi(message.Attributes["ApproximateReceiveCount"])
	if err != nil {
		receiveCount = 1
	}

	timeout := s.options.visibilityTimeout
	timeout += (int32(receiveCount) / s.options.receiveCountRange) * s.options.visibilityTimeoutOffset
	if timeout > s.options.maxVisibilityTimeout {
		timeout = s.options.maxVisibilityTimeout
	}

	return timeout
}
