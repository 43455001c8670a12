package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/runthrough-pairing/internal/config"
	"github.com/runthrough-pairing/internal/domain"
)

// ResultHandler applies reported match results
type ResultHandler interface {
	RecordResultBatch(ctx context.Context, batch []domain.ResultSubmission) error
}

// Consumer consumes match result messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       ResultHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler ResultHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true
	if cfg.RetryAttempts > 0 {
		saramaConfig.Metadata.Retry.Max = cfg.RetryAttempts
	}
	if cfg.RetryDelay > 0 {
		saramaConfig.Metadata.Retry.Backoff = cfg.RetryDelay
		saramaConfig.Consumer.Retry.Backoff = cfg.RetryDelay
	}

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start joins the consumer group and returns once the first session is set
// up. It fails when ctx ends first or when the consumer stops on its own.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	ready := make(chan struct{})
	done := make(chan struct{})
	c.wg.Add(2)
	go func() {
		defer close(done)
		c.consume(ready)
	}()
	go c.watchErrors()

	select {
	case <-ready:
		c.logger.Info("Kafka consumer ready")
		return nil
	case <-done:
		return errors.New("consumer stopped before joining the group")
	case <-c.ctx.Done():
		return c.ctx.Err()
	case <-ctx.Done():
		return fmt.Errorf("waiting for first session: %w", ctx.Err())
	}
}

// consume rejoins the group after every rebalance until the consumer stops.
// ready is closed by the first session that gets set up.
func (c *Consumer) consume(ready chan struct{}) {
	defer c.wg.Done()
	var once sync.Once
	for {
		handler := &consumerGroupHandler{consumer: c, ready: ready, once: &once}
		err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return
		case err != nil:
			c.logger.Error("consume session failed", "error", err)
			select {
			case <-c.ctx.Done():
			case <-time.After(c.config.RetryDelay):
			}
		}

		if c.ctx.Err() != nil {
			return
		}
	}
}

func (c *Consumer) watchErrors() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case err, ok := <-c.consumerGroup.Errors():
			if !ok {
				return
			}
			c.logger.Error("consumer group error", "error", err)
		}
	}
}

// Stop leaves the group after in-flight batches are flushed
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// DecodeResult parses and validates one result message
func DecodeResult(value []byte) (domain.ResultSubmission, error) {
	var submission domain.ResultSubmission
	if err := json.Unmarshal(value, &submission); err != nil {
		return domain.ResultSubmission{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if submission.TournamentID <= 0 || submission.MatchID <= 0 {
		return domain.ResultSubmission{}, fmt.Errorf("%w: tournament_id and match_id are required", domain.ErrInvalidRequest)
	}
	if _, err := domain.ParseResult(submission.Result); err != nil {
		return domain.ResultSubmission{}, err
	}
	return submission, nil
}

// offsetMarker is the part of a group session the batcher commits through
type offsetMarker interface {
	MarkMessage(msg *sarama.ConsumerMessage, metadata string)
}

// resultBatcher collects submissions of one partition claim. Offsets are
// marked only after the batch holding them was handed to the handler, so a
// crash replays results instead of losing them.
type resultBatcher struct {
	handler ResultHandler
	logger  *slog.Logger
	timeout time.Duration
	batch   []domain.ResultSubmission
	last    *sarama.ConsumerMessage
}

func newResultBatcher(handler ResultHandler, logger *slog.Logger, size int) *resultBatcher {
	return &resultBatcher{
		handler: handler,
		logger:  logger,
		timeout: 10 * time.Second,
		batch:   make([]domain.ResultSubmission, 0, size),
	}
}

// skip records a message that carries nothing to apply
func (b *resultBatcher) skip(msg *sarama.ConsumerMessage) {
	b.last = msg
}

func (b *resultBatcher) add(submission domain.ResultSubmission, msg *sarama.ConsumerMessage) int {
	b.batch = append(b.batch, submission)
	b.last = msg
	return len(b.batch)
}

func (b *resultBatcher) flush(marker offsetMarker) {
	if len(b.batch) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		if err := b.handler.RecordResultBatch(ctx, b.batch); err != nil {
			b.logger.Error("failed to process result batch", "error", err, "batch_size", len(b.batch))
		} else {
			b.logger.Debug("processed result batch", "batch_size", len(b.batch))
		}
		cancel()
		b.batch = b.batch[:0]
	}

	if b.last != nil {
		marker.MarkMessage(b.last, "")
		b.last = nil
	}
}

type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan struct{}
	once     *sync.Once
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.ready) })
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim batches the results of one partition by size and by time
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	logger := h.consumer.logger
	batcher := newResultBatcher(h.consumer.handler, logger, cfg.BatchSize)
	ticker := time.NewTicker(cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-session.Context().Done():
			batcher.flush(session)
			return nil

		case <-ticker.C:
			batcher.flush(session)

		case message, ok := <-claim.Messages():
			if !ok {
				batcher.flush(session)
				return nil
			}

			submission, err := DecodeResult(message.Value)
			if err != nil {
				logger.Warn("dropping invalid result message",
					"error", err,
					"partition", message.Partition,
					"offset", message.Offset,
				)
				batcher.skip(message)
				continue
			}

			if batcher.add(submission, message) >= cfg.BatchSize {
				batcher.flush(session)
			}
		}
	}
}
