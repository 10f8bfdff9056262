// Package transport formats and ships flushed batches to their configured
// destination. The envelope-building pattern (redact, stamp, serialize)
// is grounded on the teacher's pkg/processor.Processor.buildPayload/
// applyRedactingRules; the retry shape around each sink's send call is
// grounded on pkg/sender.ConnectionManager.backoff, generalized from a
// fixed attempt counter to github.com/cenkalti/backoff/v4's exponential
// policy.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bankwing/python-beaver/internal/config"
	"github.com/bankwing/python-beaver/internal/encrypter"
	"github.com/bankwing/python-beaver/internal/queue"
)

// Result classifies the outcome of a Send call so the consumer loop knows
// whether the batch was delivered (OK), should be retried (Retry), or
// should be dropped without retrying (Fatal).
type Result int

const (
	OK Result = iota
	Retry
	Fatal
)

// Transport ships one batch of lines to its destination.
type Transport interface {
	Send(ctx context.Context, batch queue.Batch) (Result, error)
	Close() error
}

// Registry resolves a transport by its configured name, the same lookup
// python-beaver's create_transport performs on the "transport" option.
type Registry struct {
	transports map[string]Transport
}

// NewRegistry returns an empty Registry; sinks are added with Register,
// keyed by their transport name.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// Register adds or replaces the transport for name.
func (r *Registry) Register(name string, t Transport) {
	r.transports[name] = t
}

// Get resolves the transport for name, or an error if it was never
// registered/configured.
func (r *Registry) Get(name string) (Transport, error) {
	t, ok := r.transports[name]
	if !ok {
		return nil, fmt.Errorf("transport: unknown transport %q", name)
	}
	return t, nil
}

// Close shuts down every registered transport.
func (r *Registry) Close() error {
	var first error
	for _, t := range r.transports {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// envelope is the logstash_version=0 JSON document: @message/@source/@fields,
// the shape python-beaver's create_logstash_message emits for the original
// logstash wire protocol (confirmed against test_integration.py's
// `['@message']` assertion).
type envelope struct {
	Timestamp string            `json:"@timestamp"`
	Message   string            `json:"@message"`
	Source    string            `json:"@source,omitempty"`
	Fields    map[string]string `json:"@fields,omitempty"`
}

// envelopeV1 is the logstash_version=1 document: message/host/fields, the
// shape logstash's json_event codec expects.
type envelopeV1 struct {
	Timestamp string            `json:"@timestamp"`
	Message   string            `json:"message"`
	Host      string            `json:"host,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// BuildLines renders one JSON document per line in batch, applying source's
// processing rules (exclude-at-match / mask-sequences) the same way
// Processor.applyRedactingRules does, and encrypting each document if enc
// is non-nil. The document shape branches on logstashVersion per spec §4.8:
// 0 uses @message/@source/@fields, 1 uses message/host/fields.
func BuildLines(batch queue.Batch, source *config.FileSource, logstashVersion int, host string, enc encrypter.Encrypter) ([][]byte, error) {
	out := make([][]byte, 0, len(batch.Lines))
	for _, line := range batch.Lines {
		content, keep := applyRules([]byte(line), source)
		if !keep {
			continue
		}

		var (
			body []byte
			err  error
		)
		if logstashVersion == 1 {
			body, err = json.Marshal(envelopeV1{
				Timestamp: batch.Timestamp,
				Message:   string(content),
				Host:      host,
				Fields:    batch.Fields,
			})
		} else {
			body, err = json.Marshal(envelope{
				Timestamp: batch.Timestamp,
				Message:   string(content),
				Source:    batch.Filename,
				Fields:    batch.Fields,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("transport: marshal envelope: %w", err)
		}
		if enc != nil {
			body, err = enc.Encrypt(body)
			if err != nil {
				return nil, fmt.Errorf("transport: encrypt envelope: %w", err)
			}
		}
		out = append(out, body)
	}
	return out, nil
}

func applyRules(content []byte, source *config.FileSource) ([]byte, bool) {
	if source == nil {
		return content, true
	}
	for _, rule := range source.ProcessingRules {
		switch rule.Type {
		case config.ExcludeAtMatch:
			if rule.Reg != nil && rule.Reg.Match(content) {
				return nil, false
			}
		case config.MaskSequences:
			if rule.Reg != nil {
				content = rule.Reg.ReplaceAll(content, rule.ReplacePlaceholderBytes)
			}
		}
	}
	return content, true
}

// Timestamp is re-exported so sinks that need a send-time stamp (distinct
// from the batch's flush-time @timestamp) can format it consistently.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}
