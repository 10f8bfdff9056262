package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/cenkalti/backoff/v4"

	"github.com/bankwing/python-beaver/internal/config"
	"github.com/bankwing/python-beaver/internal/encrypter"
	"github.com/bankwing/python-beaver/internal/queue"
)

// kinesisMaxRecordsPerCall mirrors Kinesis's own PutRecords limit (also the
// REDESIGN FLAG's corrected count threshold: flush at exactly 500 records,
// never more).
const kinesisMaxRecordsPerCall = 500

// Kinesis ships batches as Kinesis PutRecords calls, grouping records up to
// whichever of the two thresholds below is hit first — the corrected
// behavior from the REDESIGN FLAGS (count == 500 OR (bytes + next record's
// bytes) >= batchSizeMax), as opposed to the original implementation's
// bug of only checking one of the two.
type Kinesis struct {
	client          *kinesis.Kinesis
	streamName      string
	partitionKey    string
	batchSizeMax    int
	source          *config.FileSource
	logstashVersion int
	host            string
	enc             encrypter.Encrypter
	newBackOff      func() backoff.BackOff
}

// NewKinesis returns a Kinesis transport for the named stream.
func NewKinesis(region, streamName, partitionKey string, batchSizeMax int, source *config.FileSource, logstashVersion int, host string, enc encrypter.Encrypter) (*Kinesis, error) {
	sess, err := session.NewSession(aws.NewConfig().WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("transport: kinesis session: %w", err)
	}
	if partitionKey == "" {
		partitionKey = "beaver"
	}
	return &Kinesis{
		client:          kinesis.New(sess),
		streamName:      streamName,
		partitionKey:    partitionKey,
		batchSizeMax:    batchSizeMax,
		source:          source,
		logstashVersion: logstashVersion,
		host:            host,
		enc:             enc,
		newBackOff:      defaultBackOff,
	}, nil
}

// Send groups batch's lines into PutRecords chunks under ShouldFlush's
// corrected threshold and dispatches each chunk with exponential-backoff
// retry on throttling or partial failure.
func (t *Kinesis) Send(ctx context.Context, batch queue.Batch) (Result, error) {
	lines, err := BuildLines(batch, t.source, t.logstashVersion, t.host, t.enc)
	if err != nil {
		return Fatal, err
	}

	var chunk [][]byte
	bytes := 0
	for _, line := range lines {
		if ShouldFlush(len(chunk), bytes, len(line), t.batchSizeMax) {
			if err := t.sendChunk(ctx, chunk); err != nil {
				return Retry, err
			}
			chunk = nil
			bytes = 0
		}
		chunk = append(chunk, line)
		bytes += len(line)
	}
	if len(chunk) > 0 {
		if err := t.sendChunk(ctx, chunk); err != nil {
			return Retry, err
		}
	}
	return OK, nil
}

// ShouldFlush implements the corrected Kinesis flush condition: flush when
// the chunk already holds kinesisMaxRecordsPerCall records, or when adding
// the next record's bytes to the chunk's running byte total would meet or
// exceed batchSizeMax. A batchSizeMax of 0 disables the byte threshold.
func ShouldFlush(count, bytesSoFar, nextRecordBytes, batchSizeMax int) bool {
	if count == 0 {
		return false
	}
	if count >= kinesisMaxRecordsPerCall {
		return true
	}
	if batchSizeMax > 0 && bytesSoFar+nextRecordBytes >= batchSizeMax {
		return true
	}
	return false
}

func (t *Kinesis) sendChunk(ctx context.Context, lines [][]byte) error {
	entries := make([]*kinesis.PutRecordsRequestEntry, len(lines))
	for i, line := range lines {
		entries[i] = &kinesis.PutRecordsRequestEntry{
			Data:         line,
			PartitionKey: aws.String(t.partitionKey),
		}
	}

	remaining := entries
	op := func() error {
		out, err := t.client.PutRecordsWithContext(ctx, &kinesis.PutRecordsInput{
			StreamName: aws.String(t.streamName),
			Records:    remaining,
		})
		if err != nil {
			if msg := err.Error(); !strings.Contains(msg, "ProvisionedThroughputExceededException") && !strings.Contains(msg, "Throttl") {
				return backoff.Permanent(err)
			}
			return err
		}
		if aws.Int64Value(out.FailedRecordCount) == 0 {
			return nil
		}

		var retry []*kinesis.PutRecordsRequestEntry
		for i, res := range out.Records {
			if aws.StringValue(res.ErrorCode) != "" {
				retry = append(retry, remaining[i])
			}
		}
		remaining = retry
		return fmt.Errorf("transport: kinesis had %d failed records", len(retry))
	}

	if err := backoff.Retry(op, t.newBackOff()); err != nil {
		return fmt.Errorf("transport: kinesis put_records: %w", err)
	}
	return nil
}

// Close is a no-op: the Kinesis client holds no resources that need
// releasing.
func (t *Kinesis) Close() error { return nil }
