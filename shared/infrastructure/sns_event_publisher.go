package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/orderstack/fulfillment-system/shared/events"
	"github.com/orderstack/fulfillment-system/shared/telemetry"
)

var _ events.Publisher = (*SNSEventPublisher)(nil)

// SNS caps PublishBatch at ten entries
const maxBatchSize = 10

// SNSEventPublisher publishes domain events to one SNS topic. The message
// body is the event JSON itself, which is what the SQS subscriber on the
// other side decodes.
type SNSEventPublisher struct {
	client   *sns.Client
	topicArn string
}

// NewSNSEventPublisher creates a new SNSEventPublisher
func NewSNSEventPublisher(client *sns.Client, topicArn string) *SNSEventPublisher {
	return &SNSEventPublisher{
		client:   client,
		topicArn: topicArn,
	}
}

// Publish publishes events to SNS, batching them and sending the batches
// concurrently
func (p *SNSEventPublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	gr, ctx := errgroup.WithContext(ctx)

	for _, batch := range splitToChunks(evts, maxBatchSize) {
		batch := batch
		gr.Go(func() error {
			return p.publishBatch(ctx, batch)
		})
	}

	return gr.Wait()
}

func (p *SNSEventPublisher) publishBatch(ctx context.Context, batch []*events.Event) error {
	entries := make([]types.PublishBatchRequestEntry, len(batch))

	for i, event := range batch {
		entry, err := p.batchEntry(event)
		if err != nil {
			return err
		}
		entries[i] = entry
	}

	res, err := p.client.PublishBatch(ctx, &sns.PublishBatchInput{
		TopicArn:                   &p.topicArn,
		PublishBatchRequestEntries: entries,
	})
	if err != nil {
		return errors.Wrap(err, "failed to publish batch to SNS")
	}

	failed := make(map[string]struct{}, len(res.Failed))
	for _, entry := range res.Failed {
		if entry.Id != nil {
			failed[*entry.Id] = struct{}{}
		}
	}

	for _, event := range batch {
		_, isFailed := failed[event.ID.String()]
		telemetry.RecordCounter(ctx, "fulfillment_events_published_total",
			"Number of events published to SNS",
			1,
			attribute.String("topic", string(event.Topic)),
			attribute.Bool("success", !isFailed),
		)
	}

	if len(failed) > 0 {
		return errors.Errorf("%d of %d events failed to publish", len(failed), len(batch))
	}

	return nil
}

// batchEntry serializes one event into a PublishBatch entry. The topic and
// event metadata ride along as message attributes so queues can filter
// without parsing the body. SQS delivery bookkeeping keys are stripped
// before an event goes back out.
func (p *SNSEventPublisher) batchEntry(event *events.Event) (types.PublishBatchRequestEntry, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return types.PublishBatchRequestEntry{}, errors.Wrap(err, "failed to marshal event")
	}

	attrs := map[string]types.MessageAttributeValue{
		"topic": {
			DataType:    aws.String("String"),
			StringValue: aws.String(string(event.Topic)),
		},
	}

	for k, v := range event.Metadata {
		if k == SQSMessageIDKey || k == SQSReceiptHandleKey {
			continue
		}
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	return types.PublishBatchRequestEntry{
		Id:                aws.String(event.ID.String()),
		Message:           aws.String(string(body)),
		MessageAttributes: attrs,
	}, nil
}

// splitToChunks splits slice into chunks of specified size
func splitToChunks[T any](slice []T, chunkSize int) [][]T {
	var chunks [][]T
	for i := 0; i < len(slice); i += chunkSize {
		end := i + chunkSize
		if end > len(slice) {
			end = len(slice)
		}
		chunks = append(chunks, slice[i:end])
	}
	return chunks
}
