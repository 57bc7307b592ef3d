// Package firehose streams a copy of every stored record to a Kafka topic
// for downstream consumers (warehouse loaders, alerting). It is strictly an
// export path: best effort, never on the read side, and a publish failure
// never fails the request that produced the record.
package firehose

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"pulse-analytics/pkg/batcher"
)

var (
	recordsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firehose_records_published_total",
		Help: "Records delivered to the firehose topic",
	})
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "firehose_publish_errors_total",
		Help: "Failed firehose deliveries",
	})
)

// Envelope wraps a record with its routing metadata.
type Envelope struct {
	Kind        string    `json:"kind"`
	PackageName string    `json:"package_name"`
	Record      any       `json:"record"`
	PublishedAt time.Time `json:"published_at"`
}

// Publisher batches envelopes and writes them to Kafka keyed by package, so
// one package's records stay ordered within a partition.
type Publisher struct {
	writer *kafkago.Writer
	buf    *batcher.Batcher[kafkago.Message]
	log    zerolog.Logger
}

// New builds a publisher for the broker list. Batches flush on size or after
// a short interval, whichever comes first.
func New(brokers []string, topic string, log zerolog.Logger) *Publisher {
	p := &Publisher{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireOne,
			BatchTimeout: 250 * time.Millisecond,
		},
		log: log.With().Str("component", "firehose").Logger(),
	}
	p.buf = batcher.New[kafkago.Message](100, 500*time.Millisecond, p.flush)
	return p
}

// Publish enqueues one record envelope. Errors are logged and swallowed.
func (p *Publisher) Publish(kind, pkg string, doc any) {
	payload, err := json.Marshal(Envelope{
		Kind:        kind,
		PackageName: pkg,
		Record:      doc,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		publishErrors.Inc()
		p.log.Error().Err(err).Str("kind", kind).Msg("encode firehose envelope")
		return
	}
	if err := p.buf.Add(kafkago.Message{Key: []byte(pkg), Value: payload}); err != nil {
		publishErrors.Inc()
		p.log.Error().Err(err).Str("kind", kind).Msg("publish firehose record")
	}
}

func (p *Publisher) flush(msgs []kafkago.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		publishErrors.Inc()
		p.log.Error().Err(err).Int("batch", len(msgs)).Msg("write firehose batch")
		return err
	}
	recordsPublished.Add(float64(len(msgs)))
	return nil
}

// Close flushes pending records and shuts the writer down.
func (p *Publisher) Close() error {
	if err := p.buf.Close(); err != nil {
		p.log.Error().Err(err).Msg("flush firehose on close")
	}
	return p.writer.Close()
}
