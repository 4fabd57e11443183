package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/challenge-ladder/internal/config"
	"github.com/challenge-ladder/internal/domain"
	"github.com/challenge-ladder/internal/kafka"
)

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "ladder-results", "Kafka topic")
	challengeID := flag.String("challenge", "", "Challenge to report; when empty, JSON results are read from stdin, one per line")
	actorID := flag.String("actor", "", "Player reporting the result")
	challengerScore := flag.Float64("challenger-score", -1, "Games won by the challenger")
	challengeeScore := flag.Float64("challengee-score", -1, "Games won by the challengee")
	forfeit := flag.Bool("forfeit", false, "Report a forfeit instead of a score")
	flag.Parse()

	producer, err := kafka.NewSyncProducer(&config.KafkaConfig{
		Brokers:       strings.Split(*brokers, ","),
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	})
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	submitter := kafka.NewResultSubmitter(producer, *topic)
	defer submitter.Close()

	var results []domain.ResultMessage
	if *challengeID != "" {
		results = []domain.ResultMessage{flagResult(*challengeID, *actorID, *challengerScore, *challengeeScore, *forfeit)}
	} else {
		results, err = readResults(os.Stdin)
		if err != nil {
			log.Fatalf("Failed to read results: %v", err)
		}
	}

	var sent, failed int
	for _, result := range results {
		if err := submitter.Submit(result); err != nil {
			log.Printf("Failed to submit result for %s: %v", result.ChallengeID, err)
			failed++
			continue
		}
		sent++
	}

	fmt.Printf("Sent: %d, Errors: %d\n", sent, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// flagResult builds a result from command line values. Negative scores mean
// the score was not given.
func flagResult(challengeID, actorID string, challengerScore, challengeeScore float64, forfeit bool) domain.ResultMessage {
	result := domain.ResultMessage{
		ChallengeID: challengeID,
		ActorID:     actorID,
		Forfeit:     forfeit,
	}
	if forfeit {
		return result
	}
	if challengerScore >= 0 {
		result.ChallengerScore = &challengerScore
	}
	if challengeeScore >= 0 {
		result.ChallengeeScore = &challengeeScore
	}
	return result
}

// readResults decodes one JSON result per line. Blank lines are skipped.
func readResults(r io.Reader) ([]domain.ResultMessage, error) {
	var results []domain.ResultMessage
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var result domain.ResultMessage
		if err := json.Unmarshal([]byte(text), &result); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if result.ChallengeID == "" {
			return nil, fmt.Errorf("line %d: missing challenge_id", line)
		}
		results = append(results, result)
	}
	return results, scanner.Err()
}
