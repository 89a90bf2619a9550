package infrastructure

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/pkg/errors"

	"github.com/orderstack/fulfillment-system/shared/events"
)

// AWSClientConfig carries the settings needed to build AWS clients. Empty
// fields fall back to the SDK's default resolution (env, shared config),
// non-empty endpoints point the clients at LocalStack or another emulator.
type AWSClientConfig struct {
	Region      string
	EndpointSNS string
	EndpointSQS string
}

func (c AWSClientConfig) load(ctx context.Context) (aws.Config, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(c.Region))
	}
	return awsconfig.LoadDefaultConfig(ctx, optFns...)
}

// SNSPublisherAdapter exposes the SNS batch publisher as an events.Publisher
type SNSPublisherAdapter struct {
	snsPublisher *SNSEventPublisher
}

// NewSNSPublisherAdapter builds the SNS client and wraps it in the batch
// publisher for the given topic
func NewSNSPublisherAdapter(awsCfg AWSClientConfig, topicArn string) (*SNSPublisherAdapter, error) {
	cfg, err := awsCfg.load(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	snsClient := sns.NewFromConfig(cfg, func(o *sns.Options) {
		if awsCfg.EndpointSNS != "" {
			o.BaseEndpoint = aws.String(awsCfg.EndpointSNS)
		}
	})

	return &SNSPublisherAdapter{
		snsPublisher: NewSNSEventPublisher(snsClient, topicArn),
	}, nil
}

// Publish implements events.Publisher
func (p *SNSPublisherAdapter) Publish(ctx context.Context, events ...*events.Event) error {
	return p.snsPublisher.Publish(ctx, events...)
}

// Close closes the publisher
func (p *SNSPublisherAdapter) Close() error {
	// SNS client doesn't need explicit closing
	return nil
}
