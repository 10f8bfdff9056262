package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/cenkalti/backoff/v4"

	"github.com/bankwing/python-beaver/internal/config"
	"github.com/bankwing/python-beaver/internal/encrypter"
	"github.com/bankwing/python-beaver/internal/queue"
)

// sqsBatchLimit is AWS SQS's own hard cap on entries per SendMessageBatch
// call.
const sqsBatchLimit = 10

// sqsMaxMessageBytes is SQS's per-message size ceiling; beaver groups
// consecutive lines into one SQS message body up to this limit instead of
// sending one message per line, matching python-beaver's bulk_lines option.
const sqsMaxMessageBytes = 256 * 1024

// SQS ships batches to one or more SQS queue URLs, round-robining across
// destinations the way python-beaver's sqs transport distributes across
// sqs_queue_name entries, and retrying transient SendMessageBatch failures
// with exponential backoff in place of the teacher's fixed-attempt
// ConnectionManager.backoff.
type SQS struct {
	client          *sqs.SQS
	queueURLs       []string
	next            uint64
	source          *config.FileSource
	logstashVersion int
	host            string
	enc             encrypter.Encrypter
	bulk            bool
	newBackOff      func() backoff.BackOff
}

// NewSQS returns an SQS transport bound to queueURLs.
func NewSQS(region string, queueURLs []string, source *config.FileSource, logstashVersion int, host string, enc encrypter.Encrypter, bulk bool) (*SQS, error) {
	if len(queueURLs) == 0 {
		return nil, fmt.Errorf("transport: sqs requires at least one queue URL")
	}
	sess, err := session.NewSession(aws.NewConfig().WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("transport: sqs session: %w", err)
	}
	return &SQS{
		client:          sqs.New(sess),
		queueURLs:       queueURLs,
		source:          source,
		logstashVersion: logstashVersion,
		host:            host,
		enc:             enc,
		bulk:            bulk,
		newBackOff:      defaultBackOff,
	}, nil
}

func defaultBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
}

// Send groups batch's lines into SQS messages (one per line, or bulk-
// grouped up to sqsMaxMessageBytes when bulk is set) and dispatches them in
// SendMessageBatch chunks of at most sqsBatchLimit entries to the next
// queue URL in round-robin order.
func (t *SQS) Send(ctx context.Context, batch queue.Batch) (Result, error) {
	lines, err := BuildLines(batch, t.source, t.logstashVersion, t.host, t.enc)
	if err != nil {
		return Fatal, err
	}
	bodies := lines
	if t.bulk {
		bodies = groupByByteLimit(lines, sqsMaxMessageBytes)
	}

	queueURL := t.queueURLs[atomic.AddUint64(&t.next, 1)%uint64(len(t.queueURLs))]

	for start := 0; start < len(bodies); start += sqsBatchLimit {
		end := start + sqsBatchLimit
		if end > len(bodies) {
			end = len(bodies)
		}
		if err := t.sendChunk(ctx, queueURL, bodies[start:end]); err != nil {
			return Retry, err
		}
	}
	return OK, nil
}

func (t *SQS) sendChunk(ctx context.Context, queueURL string, bodies [][]byte) error {
	entries := make([]*sqs.SendMessageBatchRequestEntry, len(bodies))
	for i, body := range bodies {
		entries[i] = &sqs.SendMessageBatchRequestEntry{
			Id:          aws.String(fmt.Sprintf("%d", i)),
			MessageBody: aws.String(string(body)),
		}
	}

	op := func() error {
		out, err := t.client.SendMessageBatchWithContext(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(queueURL),
			Entries:  entries,
		})
		if err != nil {
			return err
		}
		if len(out.Failed) > 0 {
			return fmt.Errorf("transport: sqs batch had %d failed entries", len(out.Failed))
		}
		return nil
	}

	if err := backoff.Retry(op, t.newBackOff()); err != nil {
		return fmt.Errorf("transport: sqs send: %w", err)
	}
	return nil
}

func groupByByteLimit(lines [][]byte, limit int) [][]byte {
	var groups [][]byte
	var current []byte
	for _, line := range lines {
		if len(current) > 0 && len(current)+1+len(line) > limit {
			groups = append(groups, current)
			current = nil
		}
		if len(current) > 0 {
			current = append(current, '\n')
		}
		current = append(current, line...)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// Close is a no-op: the SQS client holds no resources that need releasing.
func (t *SQS) Close() error { return nil }
