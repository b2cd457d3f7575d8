// Package queue carries forecast sample batches over SQS from the feed poller
// to the ingest worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"hyperlocal/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// IngestMessage is one batch of samples for one location.
type IngestMessage struct {
	BatchID    string                 `json:"batch_id"`
	LocationID string                 `json:"location_id"`
	Source     string                 `json:"source"`
	SentAt     time.Time              `json:"sent_at"`
	Samples    []types.ForecastSample `json:"samples"`
}

// DecodeIngestMessage parses and checks an SQS message body.
func DecodeIngestMessage(body string) (IngestMessage, error) {
	var msg IngestMessage
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return IngestMessage{}, fmt.Errorf("queue: malformed ingest message: %w", err)
	}
	if msg.LocationID == "" {
		return IngestMessage{}, fmt.Errorf("queue: ingest message %q has no location_id", msg.BatchID)
	}
	return msg, nil
}

// IngestProducer enqueues sample batches instead of ingesting them in process.
// It satisfies the feed poller's SampleIngester, so the poller can hand its
// fetches to a separate ingest worker.
type IngestProducer struct {
	client   SQSSender
	queueURL string
	source   string
	clock    types.Clock
	logger   *slog.Logger
}

// NewIngestProducer creates a producer sending to queueURL. source is stamped
// on every message.
func NewIngestProducer(client SQSSender, queueURL, source string, logger *slog.Logger) *IngestProducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestProducer{client: client, queueURL: queueURL, source: source, clock: types.RealClock{}, logger: logger}
}

// SetClock overrides the clock used for SentAt.
func (p *IngestProducer) SetClock(c types.Clock) {
	p.clock = c
}

// Ingest splits samples into messages of at most types.MaxSampleBatch and
// sends them in order. It reports how many samples were enqueued before the
// first failure.
func (p *IngestProducer) Ingest(ctx context.Context, locationID string, samples []types.ForecastSample) (int, error) {
	sent := 0
	for start := 0; start < len(samples); start += types.MaxSampleBatch {
		end := start + types.MaxSampleBatch
		if end > len(samples) {
			end = len(samples)
		}
		msg := IngestMessage{
			BatchID:    uuid.New().String(),
			LocationID: locationID,
			Source:     p.source,
			SentAt:     p.clock.Now(),
			Samples:    samples[start:end],
		}
		if err := p.send(ctx, msg); err != nil {
			return sent, err
		}
		sent += end - start
	}
	return sent, nil
}

func (p *IngestProducer) send(ctx context.Context, msg IngestMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal IngestMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"source": {
				DataType:    aws.String("String"),
				StringValue: aws.String(p.source),
			},
			"location_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.LocationID),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send IngestMessage to %s: %w", p.queueURL, err)
	}

	p.logger.DebugContext(ctx, "ingest message sent",
		"queue_url", p.queueURL,
		"batch_id", msg.BatchID,
		"location_id", msg.LocationID,
		"samples", len(msg.Samples),
	)
	return nil
}
