package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/kafka"
)

type counters struct {
	queued  atomic.Int64
	success atomic.Int64
	errors  atomic.Int64
}

func (c *counters) String() string {
	return fmt.Sprintf("Queued: %d | Sent: %d | Errors: %d",
		c.queued.Load(), c.success.Load(), c.errors.Load())
}

// newPlayers returns n random identities. A fixed seed gives the same
// identities on every run so a producer can be restarted against a
// populated ledger.
func newPlayers(n int, seed int64) []domain.Identity {
	rng := rand.New(rand.NewSource(seed))
	players := make([]domain.Identity, n)
	for i := range players {
		id, err := uuid.NewRandomFromReader(rng)
		if err != nil {
			log.Fatalf("Failed to generate identity: %v", err)
		}
		players[i] = domain.Identity(id.String())
	}
	return players
}

// nextScore favours a small group of hot players so the top score moves
func nextScore(rng *rand.Rand, players []domain.Identity) kafka.ScoreMessage {
	hot := len(players)
	if hot > 20 {
		hot = 20
	}
	var idx int
	if rng.Intn(100) < 70 || hot == len(players) {
		idx = rng.Intn(hot)
	} else {
		idx = rng.Intn(len(players)-hot) + hot
	}
	return kafka.ScoreMessage{
		Type:     kafka.MessageTypeScore,
		PlayerID: players[idx],
		Score:    uint64(rng.Intn(5000) + 1),
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "ledger-scores", "Kafka topic")
	totalPlayers := flag.Int("players", 1000, "Number of player identities to register")
	seed := flag.Int64("seed", 1, "Seed for generated identities")
	rate := flag.Int("rate", 100, "Score submissions per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	registerOnly := flag.Bool("register-only", false, "Only register players, send no scores")
	flag.Parse()

	if *totalPlayers < 1 || *rate < 1 {
		log.Fatal("players and rate must be positive")
	}

	brokerList := strings.Split(*brokers, ",")

	fmt.Printf("Score producer: brokers=%s topic=%s players=%d rate=%d/s\n",
		*brokers, *topic, *totalPlayers, *rate)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var stats counters
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			stats.success.Add(1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			stats.errors.Add(1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdown := func(reason string) {
		fmt.Printf("\n%s, shutting down...\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. %s\n", &stats)
	}

	// Messages are keyed by player so one player's messages stay ordered
	// within a partition.
	send := func(msg kafka.ScoreMessage) bool {
		data, err := msg.Encode()
		if err != nil {
			log.Printf("Failed to encode message: %v", err)
			return true
		}
		select {
		case producer.Input() <- &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(msg.PlayerID),
			Value: sarama.ByteEncoder(data),
		}:
			stats.queued.Add(1)
			return true
		case <-sigChan:
			return false
		}
	}

	players := newPlayers(*totalPlayers, *seed)
	for i, id := range players {
		if !send(kafka.ScoreMessage{Type: kafka.MessageTypeRegister, PlayerID: id}) {
			shutdown("Interrupted")
			return
		}
		if (i+1)%100 == 0 || i+1 == len(players) {
			fmt.Printf("\r  Registered %d/%d players", i+1, len(players))
		}
	}
	fmt.Println()

	if *registerOnly {
		shutdown("Register-only mode")
		return
	}

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-sigChan:
			shutdown("Interrupted")
			return
		case <-deadline:
			shutdown("Duration reached")
			return
		case <-ticker.C:
			if !send(nextScore(rng, players)) {
				shutdown("Interrupted")
				return
			}
		case <-statsTicker.C:
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), &stats)
		}
	}
}
