package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/leaderboard-ledger/internal/config"
	"github.com/leaderboard-ledger/internal/domain"
)

// Ledger is the part of the ledger service the consumer drives
type Ledger interface {
	RegisterPlayer(ctx context.Context, caller domain.Identity) (*domain.PlayerRecord, error)
	SubmitScore(ctx context.Context, caller domain.Identity, sub domain.ScoreSubmission) (*domain.SubmitResult, error)
}

// retryBackoff is the pause before rejoining the group after a batch
// failed to apply
const retryBackoff = time.Second

// ErrApplyFailed ends a claim when a message could not be applied. The
// message is left unmarked so the next session redelivers it.
var ErrApplyFailed = errors.New("kafka: message not applied")

// Consumer consumes score messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	applier       *applier
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, ledger Ledger, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		applier:       &applier{ledger: ledger, logger: logger},
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka. It returns once the first
// group session is set up or ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	ready := c.ready
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			if handler.failed.Load() {
				c.logger.Warn("rejoining consumer group to redeliver unapplied messages", "backoff", retryBackoff)
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(retryBackoff):
				}
			}

			ready = make(chan bool)
		}
	}()

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
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
	}()

	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
	once     sync.Once
	failed   atomic.Bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.ready) })
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim batches messages from a partition and applies each batch in
// offset order. Offsets are marked only after a message has been handled.
// A message that fails to apply ends the claim, which ends the session.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batch := make([]*sarama.ConsumerMessage, 0, cfg.BatchSize)
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		res := h.consumer.applier.applyBatch(ctx, batch, func(msg *sarama.ConsumerMessage) {
			session.MarkMessage(msg, "")
		})
		batch = batch[:0]
		if res.Err != nil {
			h.failed.Store(true)
			return res.Err
		}
		return nil
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			return processBatch()

		case <-batchTimer.C:
			if err := processBatch(); err != nil {
				return err
			}
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				return processBatch()
			}
			batch = append(batch, message)
			if len(batch) >= cfg.BatchSize {
				if err := processBatch(); err != nil {
					return err
				}
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// applier turns topic messages into ledger operations
type applier struct {
	ledger Ledger
	logger *slog.Logger
}

// batchResult counts what happened to a batch. Err is set when a message
// could not be applied.
type batchResult struct {
	Applied  int
	Rejected int
	Failed   int
	Err      error
}

// applyBatch applies msgs in order and calls mark for every message once it
// has been handled. Rejected messages are marked: redelivering them cannot
// succeed. The first message that fails for any other reason stops the
// batch; it and the messages after it stay unmarked.
func (a *applier) applyBatch(ctx context.Context, msgs []*sarama.ConsumerMessage, mark func(*sarama.ConsumerMessage)) batchResult {
	var res batchResult
	for _, msg := range msgs {
		err := a.apply(ctx, msg.Value)
		switch {
		case err == nil:
			res.Applied++
		case domain.IsDomainError(err) || errors.Is(err, domain.ErrInvalidRequest):
			res.Rejected++
			a.logger.Warn("score message rejected",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		default:
			res.Failed++
			res.Err = fmt.Errorf("%w: partition %d offset %d: %w", ErrApplyFailed, msg.Partition, msg.Offset, err)
			a.logger.Error("failed to apply score message, stopping batch",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"unapplied", len(msgs)-res.Applied-res.Rejected,
			)
			return res
		}
		mark(msg)
	}
	a.logger.Debug("processed batch",
		"batch_size", len(msgs),
		"applied", res.Applied,
		"rejected", res.Rejected,
		"failed", res.Failed,
	)
	return res
}

func (a *applier) apply(ctx context.Context, value []byte) error {
	msg, err := DecodeMessage(value)
	if err != nil {
		return err
	}
	switch msg.Type {
	case MessageTypeRegister:
		_, err = a.ledger.RegisterPlayer(ctx, msg.PlayerID)
	default:
		_, err = a.ledger.SubmitScore(ctx, msg.PlayerID, domain.ScoreSubmission{Score: msg.Score})
	}
	return err
}
