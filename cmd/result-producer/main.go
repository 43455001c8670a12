package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/runthrough-pairing/internal/domain"
)

// parseEntry reads "matchID=result", e.g. "12=1-0"
func parseEntry(tournamentID int64, entry string) (domain.ResultSubmission, error) {
	rawID, token, ok := strings.Cut(strings.TrimSpace(entry), "=")
	if !ok {
		return domain.ResultSubmission{}, fmt.Errorf("expected match=result, got %q", entry)
	}
	matchID, err := strconv.Atoi(rawID)
	if err != nil || matchID <= 0 {
		return domain.ResultSubmission{}, fmt.Errorf("invalid match id %q", rawID)
	}
	if _, err := domain.ParseResult(token); err != nil {
		return domain.ResultSubmission{}, fmt.Errorf("match %d: %w", matchID, err)
	}
	return domain.ResultSubmission{TournamentID: tournamentID, MatchID: matchID, Result: token}, nil
}

func readEntries(r io.Reader) ([]string, error) {
	var entries []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" && !strings.HasPrefix(line, "#") {
			entries = append(entries, line)
		}
	}
	return entries, scanner.Err()
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "match-results", "Kafka topic")
	tournamentID := flag.Int64("tournament", 0, "Tournament ID")
	fromStdin := flag.Bool("stdin", false, "Read match=result lines from stdin")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -tournament ID [flags] match=result...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *tournamentID <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	entries := flag.Args()
	if *fromStdin {
		lines, err := readEntries(os.Stdin)
		if err != nil {
			log.Fatalf("Failed to read stdin: %v", err)
		}
		entries = append(entries, lines...)
	}
	if len(entries) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	submissions := make([]domain.ResultSubmission, 0, len(entries))
	for _, entry := range entries {
		sub, err := parseEntry(*tournamentID, entry)
		if err != nil {
			log.Fatalf("Invalid result: %v", err)
		}
		submissions = append(submissions, sub)
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	// One key per tournament keeps its results on a single partition, in order
	key := sarama.StringEncoder(strconv.FormatInt(*tournamentID, 10))
	messages := make([]*sarama.ProducerMessage, 0, len(submissions))
	for _, sub := range submissions {
		data, err := json.Marshal(sub)
		if err != nil {
			log.Fatalf("Failed to marshal result: %v", err)
		}
		messages = append(messages, &sarama.ProducerMessage{
			Topic: *topic,
			Key:   key,
			Value: sarama.ByteEncoder(data),
		})
	}

	if err := producer.SendMessages(messages); err != nil {
		log.Fatalf("Failed to send results: %v", err)
	}

	fmt.Printf("Sent %d result(s) for tournament %d to %s\n", len(messages), *tournamentID, *topic)
}
