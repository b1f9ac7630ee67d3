package jobs

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/dealport/dealport/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AbuseScanJob walks the shared rate-limit keyspace and reports identifiers
// whose counters sit past a reporting threshold. Purely observational: window
// expiry is handled by the store itself.
type AbuseScanJob struct {
	client    *redis.Client
	logger    *slog.Logger
	metricsV  *jobmetrics.Metrics
	threshold int64
}

// NewAbuseScanJob constructs the job. threshold is the counter value at which
// an identifier is reported.
func NewAbuseScanJob(client *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics, threshold int64) *AbuseScanJob {
	if threshold <= 0 {
		threshold = 100
	}
	return &AbuseScanJob{client: client, logger: logger, metricsV: metrics, threshold: threshold}
}

// Handle processes TaskTypeAbuseScan tasks.
func (j *AbuseScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics().Track("abuse_scan")
	return tracker.End(j.scan(ctx))
}

func (j *AbuseScanJob) scan(ctx context.Context) error {
	var (
		cursor   uint64
		scanned  int
		reported int
	)
	for {
		keys, next, err := j.client.Scan(ctx, cursor, "ratelimit:*", 256).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			scanned++
			raw, err := j.client.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			count, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || count < j.threshold {
				continue
			}
			reported++
			j.metrics().AddHotKeys(policyFromKey(key), 1)
			j.logger.Warn("hot rate-limit identifier",
				slog.String("key", key),
				slog.Int64("count", count))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	j.logger.Info("abuse scan complete",
		slog.Int("scanned", scanned),
		slog.Int("reported", reported))
	return nil
}

func (j *AbuseScanJob) metrics() *jobmetrics.Metrics {
	if j.metricsV != nil {
		return j.metricsV
	}
	return defaultJobMetrics
}

// policyFromKey extracts the policy name from a "ratelimit:<policy>:<id>" key.
func policyFromKey(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}
