package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

// Header names used on DLQ traffic
const (
	HeaderDLQRetries      = "X-DLQ-Retries"
	HeaderOriginalSubject = "X-Original-Subject"
	HeaderFailedAt        = "X-Failed-At"
)

// SendToDLQ records a failed message in the DLQ stream
func (c *Client) SendToDLQ(ctx context.Context, originalMsg *nats.Msg, cause error, delivered int) error {
	retries := 0
	if originalMsg.Header != nil {
		retries, _ = strconv.Atoi(originalMsg.Header.Get(HeaderDLQRetries))
	}

	maxRetries := c.config.DLQMaxRetries
	if !IsRetryable(cause) {
		maxRetries = 0
	}

	dlqMsg := &DLQMessage{
		OriginalMessage: originalMsg.Data,
		OriginalSubject: originalMsg.Subject,
		Error:           cause.Error(),
		FailedAt:        time.Now().UTC(),
		Retries:         retries,
		MaxRetries:      maxRetries,
	}

	data, err := dlqMsg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	headers := nats.Header{}
	headers.Set(HeaderOriginalSubject, originalMsg.Subject)
	headers.Set(HeaderFailedAt, dlqMsg.FailedAt.Format(time.RFC3339))
	headers.Set(HeaderDLQRetries, strconv.Itoa(retries))
	headers.Set("X-Delivered", strconv.Itoa(delivered))

	msg := &nats.Msg{
		Subject: SubjectDLQ,
		Data:    data,
		Header:  headers,
	}

	pubAck, err := c.js.PublishMsgAsync(msg)
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	select {
	case <-pubAck.Ok():
		reason := "retries_exhausted"
		if maxRetries == 0 {
			reason = "permanent"
		}
		telemetry.RecordDLQMessage(reason)
		return nil
	case err := <-pubAck.Err():
		return fmt.Errorf("DLQ publish failed: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// errNotReady is returned while a DLQ entry waits for its retry slot
var errNotReady = errors.New("DLQ message not ready for retry")

// DLQHandler replays dead-lettered messages onto their original subject
type DLQHandler struct {
	client *Client
	config *Config
	now    func() time.Time
}

// NewDLQHandler creates a new DLQ handler
func NewDLQHandler(client *Client) *DLQHandler {
	return &DLQHandler{
		client: client,
		config: client.config,
		now:    time.Now,
	}
}

func (h *DLQHandler) consumerName() string {
	return h.config.ConsumerName + "-dlq"
}

// ProcessDLQ replays DLQ entries with a linear back-off until ctx is done.
// Entries past their retry budget are acked and dropped.
func (h *DLQHandler) ProcessDLQ(ctx context.Context) error {
	if _, err := h.client.CreateConsumer(h.config.DLQStreamName, h.consumerName(), SubjectDLQ); err != nil {
		return fmt.Errorf("failed to create DLQ consumer: %w", err)
	}

	sub, err := h.client.js.PullSubscribe(
		SubjectDLQ,
		h.consumerName(),
		nats.ManualAck(),
		nats.Bind(h.config.DLQStreamName, h.consumerName()),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to DLQ: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	log := h.client.log.WithField("consumer", h.consumerName())

	for {
		if ctx.Err() != nil {
			return nil
		}

		fctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		msgs, err := sub.Fetch(10, nats.Context(fctx))
		cancel()
		if err != nil {
			if isFetchIdle(err) || ctx.Err() != nil {
				continue
			}
			return fmt.Errorf("failed to fetch DLQ messages: %w", err)
		}

		for _, msg := range msgs {
			delay, err := h.processDLQMessage(ctx, msg)
			switch {
			case err == nil:
				_ = msg.Ack()
			case errors.Is(err, errNotReady):
				_ = msg.NakWithDelay(delay)
			default:
				log.WithError(err).Warn("Failed to process DLQ message")
				_ = msg.Nak()
			}
		}
	}
}

// processDLQMessage republishes the original message when its retry slot
// has come. It returns the remaining wait with errNotReady otherwise.
func (h *DLQHandler) processDLQMessage(ctx context.Context, msg *nats.Msg) (time.Duration, error) {
	dlqMsg, err := UnmarshalDLQMessage(msg.Data)
	if err != nil {
		// Unreadable entries can never be replayed
		h.client.log.WithError(err).Error("Dropping unreadable DLQ message")
		return 0, nil
	}

	if dlqMsg.Retries >= dlqMsg.MaxRetries {
		h.client.log.WithFields(logrus.Fields{
			"subject":     dlqMsg.OriginalSubject,
			"retries":     dlqMsg.Retries,
			"max_retries": dlqMsg.MaxRetries,
			"error":       dlqMsg.Error,
		}).Error("DLQ message exceeded max retries")
		return 0, nil
	}

	next := h.NextRetryAt(dlqMsg)
	if wait := next.Sub(h.now()); wait > 0 {
		return wait, errNotReady
	}

	return 0, h.retryOriginalMessage(ctx, dlqMsg)
}

// NextRetryAt is FailedAt plus DLQRetryInterval times the attempt number
func (h *DLQHandler) NextRetryAt(dlqMsg *DLQMessage) time.Time {
	return dlqMsg.FailedAt.Add(h.config.DLQRetryInterval * time.Duration(dlqMsg.Retries+1))
}

func (h *DLQHandler) retryOriginalMessage(ctx context.Context, dlqMsg *DLQMessage) error {
	headers := nats.Header{}
	headers.Set(HeaderDLQRetries, strconv.Itoa(dlqMsg.Retries+1))

	msg := &nats.Msg{
		Subject: dlqMsg.OriginalSubject,
		Data:    dlqMsg.OriginalMessage,
		Header:  headers,
	}

	pubAck, err := h.client.js.PublishMsgAsync(msg)
	if err != nil {
		return fmt.Errorf("failed to retry message: %w", err)
	}

	select {
	case <-pubAck.Ok():
		h.client.log.WithFields(logrus.Fields{
			"subject": dlqMsg.OriginalSubject,
			"attempt": dlqMsg.Retries + 1,
		}).Info("Replayed DLQ message")
		return nil
	case err := <-pubAck.Err():
		return fmt.Errorf("retry publish failed: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetDLQStats returns statistics about the DLQ
func (h *DLQHandler) GetDLQStats() (*DLQStats, error) {
	streamInfo, err := h.client.StreamInfo(h.config.DLQStreamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get DLQ stream info: %w", err)
	}

	stats := &DLQStats{
		TotalMessages: streamInfo.State.Msgs,
		StreamBytes:   streamInfo.State.Bytes,
		OldestMessage: streamInfo.State.FirstTime,
		NewestMessage: streamInfo.State.LastTime,
	}

	if consumerInfo, err := h.client.ConsumerInfo(h.config.DLQStreamName, h.consumerName()); err == nil {
		stats.PendingMessages = consumerInfo.NumPending
	}
	return stats, nil
}

// PurgeDLQ removes all messages from the DLQ
func (h *DLQHandler) PurgeDLQ() error {
	if err := h.client.js.PurgeStream(h.config.DLQStreamName); err != nil {
		return fmt.Errorf("failed to purge DLQ: %w", err)
	}
	return nil
}

// DLQStats represents statistics about the DLQ
type DLQStats struct {
	TotalMessages   uint64    `json:"total_messages"`
	PendingMessages uint64    `json:"pending_messages"`
	StreamBytes     uint64    `json:"stream_bytes"`
	OldestMessage   time.Time `json:"oldest_message"`
	NewestMessage   time.Time `json:"newest_message"`
}
