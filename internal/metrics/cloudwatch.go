package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"hyperlocal/internal/engine"
	"hyperlocal/internal/types"
)

// maxDatumsPerCall is the PutMetricData limit.
const maxDatumsPerCall = 1000

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchCollector buffers datums in memory and sends them on Flush. Run
// flushes on an interval until its context ends.
type CloudWatchCollector struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger

	mu     sync.Mutex
	buffer []cwtypes.MetricDatum
}

// NewCloudWatchCollector creates a collector publishing to namespace.
func NewCloudWatchCollector(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchCollector{client: client, namespace: namespace, logger: logger}
}

func (c *CloudWatchCollector) RecordRequest(method, route, status string, d time.Duration) {
	dims := dimensions("Method", method, "Route", route, "Status", status)
	c.add(datum("APIRequestCount", 1, cwtypes.StandardUnitCount, dims))
	c.add(datum("APILatency", float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims[:2]))
}

func (c *CloudWatchCollector) ObserveEvaluation(outcome engine.Outcome, d time.Duration) {
	c.add(datum("TriggerEvaluation", 1, cwtypes.StandardUnitCount, dimensions("Outcome", string(outcome))))
	c.add(datum("TriggerEvaluationLatency", float64(d.Microseconds()), cwtypes.StandardUnitMicroseconds, nil))
}

func (c *CloudWatchCollector) ObserveTransition(from, to types.StreakPhase) {
	c.add(datum("StreakTransition", 1, cwtypes.StandardUnitCount, dimensions("From", string(from), "To", string(to))))
}

func (c *CloudWatchCollector) RecordIngest(source string, n int) {
	c.add(datum("SamplesIngested", float64(n), cwtypes.StandardUnitCount, dimensions("Source", source)))
}

func (c *CloudWatchCollector) RecordFeedFetch(result string) {
	c.add(datum("FeedFetch", 1, cwtypes.StandardUnitCount, dimensions("Result", result)))
}

// Run flushes every interval and once more when ctx is cancelled.
func (c *CloudWatchCollector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			c.Flush(ctx)
		}
	}
}

// Flush sends buffered datums. Failed batches are logged and dropped.
func (c *CloudWatchCollector) Flush(ctx context.Context) {
	c.mu.Lock()
	pending := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	for start := 0; start < len(pending); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(pending) {
			end = len(pending)
		}
		input := &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: pending[start:end],
		}
		if _, err := c.client.PutMetricData(ctx, input); err != nil {
			c.logger.ErrorContext(ctx, "failed to put metric data",
				"namespace", c.namespace,
				"datums", end-start,
				"error", err,
			)
		}
	}
}

func (c *CloudWatchCollector) add(d cwtypes.MetricDatum) {
	d.Timestamp = aws.Time(time.Now().UTC())
	c.mu.Lock()
	c.buffer = append(c.buffer, d)
	c.mu.Unlock()
}

func datum(name string, value float64, unit cwtypes.StandardUnit, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Dimensions: dims,
	}
}

// dimensions builds dimensions from name/value pairs.
func dimensions(kv ...string) []cwtypes.Dimension {
	out := make([]cwtypes.Dimension, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, cwtypes.Dimension{Name: aws.String(kv[i]), Value: aws.String(kv[i+1])})
	}
	return out
}
