package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"hyperlocal/internal/queue"
	"hyperlocal/internal/types"
)

// sampleIngester is satisfied by *forecasts.Service.
type sampleIngester interface {
	Ingest(ctx context.Context, locationID string, samples []types.ForecastSample) (int, error)
}

// ingestRecorder counts accepted samples per source.
type ingestRecorder interface {
	RecordIngest(source string, n int)
}

// Handler consumes ingest queue batches. Each record is stored and evaluated
// before it is acknowledged.
type Handler struct {
	ingest  sampleIngester
	metrics ingestRecorder
	flush   func(ctx context.Context)
	logger  *slog.Logger
}

// Handle processes every record and reports transient failures so SQS
// redelivers only those messages. Records that can never succeed (malformed
// bodies, unknown locations, invalid samples) are logged and dropped.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	if h.flush != nil {
		h.flush(ctx)
	}
	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	msg, err := queue.DecodeIngestMessage(record.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "dropping undecodable ingest message",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}

	n, err := h.ingest.Ingest(ctx, msg.LocationID, msg.Samples)
	if err != nil {
		if permanent(err) {
			h.logger.WarnContext(ctx, "dropping rejected ingest message",
				"message_id", record.MessageId,
				"batch_id", msg.BatchID,
				"location_id", msg.LocationID,
				"code", types.CodeOf(err),
				"error", err,
			)
			return nil
		}
		return err
	}

	if h.metrics != nil {
		h.metrics.RecordIngest(msg.Source, n)
	}
	h.logger.InfoContext(ctx, "ingest message processed",
		"message_id", record.MessageId,
		"batch_id", msg.BatchID,
		"location_id", msg.LocationID,
		"samples", n,
	)
	return nil
}

// permanent reports whether redelivery cannot change the outcome.
func permanent(err error) bool {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus() < 500
	}
	return false
}
