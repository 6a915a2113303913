package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

// Handler processes one message. A nil error acks it; a retryable error
// naks it until the consumer's MaxDeliver is reached, after which the
// message goes to the DLQ. Errors wrapped with Permanent skip the retries.
type Handler func(ctx context.Context, msg *nats.Msg) error

// Publisher is the publishing side used by the indexer and retention jobs
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Client represents a NATS JetStream client
type Client struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config *Config
	log    *logrus.Entry
}

var _ Publisher = (*Client)(nil)

// NewClient connects to NATS and creates or updates the block and DLQ streams
func NewClient(config *Config) (*Client, error) {
	log := telemetry.Entry().WithField("component", "queue")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.WithError(err).Error("NATS error")
		}),
	}

	if config.User != "" && config.Password != "" {
		opts = append(opts, nats.UserInfo(config.User, config.Password))
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &Client{
		nc:     nc,
		js:     js,
		config: config,
		log:    log,
	}

	if err := client.initializeStreams(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}

	return client, nil
}

func (c *Client) storage() nats.StorageType {
	if c.config.MemoryStorage {
		return nats.MemoryStorage
	}
	return nats.FileStorage
}

// initializeStreams creates the block stream and its DLQ
func (c *Client) initializeStreams() error {
	mainStreamConfig := &nats.StreamConfig{
		Name:        c.config.StreamName,
		Description: "Aleo block fetch requests and index events",
		Subjects:    []string{SubjectRoot + ".>"},
		Retention:   nats.LimitsPolicy,
		MaxAge:      c.config.StreamMaxAge,
		MaxBytes:    c.config.StreamMaxBytes,
		MaxMsgs:     c.config.StreamMaxMsgs,
		MaxMsgSize:  c.config.StreamMaxMsgSize,
		Replicas:    c.config.StreamReplicas,
		Duplicates:  c.config.DuplicatesWindow,
		Storage:     c.storage(),
	}
	if err := c.addOrUpdateStream(mainStreamConfig); err != nil {
		return fmt.Errorf("failed to create/update main stream: %w", err)
	}

	dlqStreamConfig := &nats.StreamConfig{
		Name:        c.config.DLQStreamName,
		Description: "Aleo block messages that exhausted their deliveries",
		Subjects:    []string{SubjectDLQ},
		Retention:   nats.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxBytes:    c.config.StreamMaxBytes / 10,
		MaxMsgs:     c.config.StreamMaxMsgs / 10,
		MaxMsgSize:  c.config.StreamMaxMsgSize,
		Replicas:    c.config.StreamReplicas,
		Storage:     c.storage(),
	}
	if err := c.addOrUpdateStream(dlqStreamConfig); err != nil {
		return fmt.Errorf("failed to create/update DLQ stream: %w", err)
	}

	return nil
}

func (c *Client) addOrUpdateStream(cfg *nats.StreamConfig) error {
	if _, err := c.js.AddStream(cfg); err != nil {
		if _, err := c.js.UpdateStream(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Publish sends msg and waits for the stream acknowledgment
func (c *Client) Publish(ctx context.Context, msg Message) error {
	future, err := c.PublishAsync(ctx, msg)
	if err != nil {
		return err
	}

	select {
	case <-future.Ok():
		return nil
	case err := <-future.Err():
		return fmt.Errorf("publish to %s failed: %w", msg.Subject(), err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAsync sends msg without waiting for the acknowledgment. The
// DataDog span in ctx, if any, is propagated through the headers.
func (c *Client) PublishAsync(ctx context.Context, msg Message) (nats.PubAckFuture, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.Subject(), err)
	}

	m := &nats.Msg{
		Subject: msg.Subject(),
		Data:    data,
		Header:  nats.Header{},
	}
	if span, ok := tracer.SpanFromContext(ctx); ok {
		_ = tracer.Inject(span.Context(), tracer.HTTPHeadersCarrier(m.Header))
	}

	future, err := c.js.PublishMsgAsync(m, nats.MsgId(msg.MessageID()))
	if err != nil {
		return nil, fmt.Errorf("failed to publish %s message: %w", msg.Subject(), err)
	}
	return future, nil
}

// CreateConsumer creates or updates a durable pull consumer
func (c *Client) CreateConsumer(streamName, consumerName, filterSubject string) (*nats.ConsumerInfo, error) {
	consumerConfig := &nats.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       c.config.ConsumerAckWait,
		MaxDeliver:    c.config.ConsumerMaxDeliver,
		MaxAckPending: c.config.ConsumerMaxAckPending,
		ReplayPolicy:  nats.ReplayInstantPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		FilterSubject: filterSubject,
	}

	info, err := c.js.AddConsumer(streamName, consumerConfig)
	if err != nil {
		info, err = c.js.UpdateConsumer(streamName, consumerConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create/update consumer: %w", err)
		}
	}
	return info, nil
}

// Subscribe pulls messages matching filterSubject from the block stream and
// hands them to handler until ctx is done. It returns nil on cancellation.
func (c *Client) Subscribe(ctx context.Context, consumerName, filterSubject string, handler Handler) error {
	if _, err := c.CreateConsumer(c.config.StreamName, consumerName, filterSubject); err != nil {
		return err
	}

	sub, err := c.js.PullSubscribe(
		filterSubject,
		consumerName,
		nats.ManualAck(),
		nats.Bind(c.config.StreamName, consumerName),
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	log := c.log.WithFields(logrus.Fields{"consumer": consumerName, "subject": filterSubject})
	log.Info("Subscription started")

	for {
		if ctx.Err() != nil {
			log.Info("Subscription stopped")
			return nil
		}

		fctx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
		msgs, err := sub.Fetch(c.config.FetchBatch, nats.Context(fctx))
		cancel()
		if err != nil {
			if isFetchIdle(err) || ctx.Err() != nil {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) {
				return err
			}
			log.WithError(err).Warn("Error fetching messages")
			continue
		}

		for _, msg := range msgs {
			c.dispatch(ctx, msg, handler)
		}
	}
}

func isFetchIdle(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// dispatch runs handler inside a consumer span and settles the message
func (c *Client) dispatch(ctx context.Context, msg *nats.Msg, handler Handler) {
	start := time.Now()

	opts := []tracer.StartSpanOption{
		tracer.ServiceName(c.config.Name),
		tracer.ResourceName("consume " + msg.Subject),
		tracer.SpanType("queue"),
		tracer.Tag("messaging.system", "nats"),
		tracer.Tag("messaging.destination", msg.Subject),
		tracer.Tag("messaging.operation", "receive"),
	}
	if spanCtx, err := tracer.Extract(tracer.HTTPHeadersCarrier(msg.Header)); err == nil && spanCtx != nil {
		opts = append(opts, tracer.ChildOf(spanCtx))
	}
	span := tracer.StartSpan("nats.consume", opts...)
	defer span.Finish()
	ctx = tracer.ContextWithSpan(ctx, span)

	err := handler(ctx, msg)
	if err == nil {
		_ = msg.Ack()
		telemetry.RecordMessageProcessed(msg.Subject, "success", time.Since(start))
		return
	}
	span.SetTag("error", err)

	delivered := uint64(1)
	if meta, mErr := msg.Metadata(); mErr == nil {
		delivered = meta.NumDelivered
	}

	log := c.log.WithFields(logrus.Fields{"subject": msg.Subject, "delivered": delivered}).WithError(err)

	if IsRetryable(err) && delivered < uint64(c.config.ConsumerMaxDeliver) {
		log.Warn("Message failed, will be redelivered")
		_ = msg.NakWithDelay(redeliveryDelay(delivered))
		telemetry.RecordMessageProcessed(msg.Subject, "retry", time.Since(start))
		return
	}

	log.Error("Message failed permanently, sending to DLQ")
	if dlqErr := c.SendToDLQ(ctx, msg, err, int(delivered)); dlqErr != nil {
		log.WithError(dlqErr).Error("Failed to send message to DLQ")
		_ = msg.Nak()
		return
	}
	_ = msg.Term()
	telemetry.RecordMessageProcessed(msg.Subject, "dlq", time.Since(start))
}

func redeliveryDelay(delivered uint64) time.Duration {
	d := time.Duration(delivered) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Health checks the NATS connection health
func (c *Client) Health() error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := c.js.AccountInfo(); err != nil {
		return fmt.Errorf("JetStream health check failed: %w", err)
	}
	return nil
}

// Close closes the NATS connection
func (c *Client) Close() error {
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}

// StreamInfo returns information about a stream
func (c *Client) StreamInfo(streamName string) (*nats.StreamInfo, error) {
	return c.js.StreamInfo(streamName)
}

// ConsumerInfo returns information about a consumer
func (c *Client) ConsumerInfo(streamName, consumerName string) (*nats.ConsumerInfo, error) {
	return c.js.ConsumerInfo(streamName, consumerName)
}

// GetConfig returns the client configuration
func (c *Client) GetConfig() *Config {
	return c.config
}

// permanentError marks a failure that redelivery cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the message goes straight to the DLQ
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether a handler error is worth a redelivery
func IsRetryable(err error) bool {
	var p *permanentError
	return !errors.As(err, &p)
}
