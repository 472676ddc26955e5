package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"FuseGate/internal/domain/models"
	"FuseGate/internal/domain/repository"
	pkgkafka "FuseGate/pkg/kafka"
)

// ClickHouseJournal implements DecisionStorage on ClickHouse.
type ClickHouseJournal struct {
	db    *sql.DB
	table string
}

// NewClickHouseJournal creates a ClickHouse decision journal.
func NewClickHouseJournal(db *sql.DB, table string) repository.DecisionStorage {
	return &ClickHouseJournal{db: db, table: table}
}

func (j *ClickHouseJournal) Store(ctx context.Context, d *models.Decision) error {
	if d == nil {
		return fmt.Errorf("decision is nil")
	}
	q := fmt.Sprintf("INSERT INTO %s (signal_id, instrument, direction, confidence, rationale, local_price, rsi, outcome, resolved_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", j.table)
	_, err := j.db.ExecContext(ctx, q,
		d.SignalID,
		d.Instrument,
		string(d.Direction),
		d.Confidence,
		d.Rationale,
		d.LocalPrice,
		d.RSI,
		string(d.Outcome),
		d.ResolvedAt,
	)
	return err
}

func (j *ClickHouseJournal) Query(ctx context.Context, instrument string, from, to time.Time, limit int) ([]*models.Decision, error) {
	q := fmt.Sprintf("SELECT signal_id, instrument, direction, confidence, rationale, local_price, rsi, outcome, resolved_at FROM %s WHERE instrument = ? AND resolved_at >= ? AND resolved_at <= ? ORDER BY resolved_at DESC LIMIT ?", j.table)
	rows, err := j.db.QueryContext(ctx, q, instrument, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*models.Decision
	for rows.Next() {
		var d models.Decision
		var direction, outcome string
		if err := rows.Scan(&d.SignalID, &d.Instrument, &direction, &d.Confidence, &d.Rationale, &d.LocalPrice, &d.RSI, &outcome, &d.ResolvedAt); err != nil {
			return nil, err
		}
		d.Direction = models.Direction(direction)
		d.Outcome = models.Outcome(outcome)
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}

func (j *ClickHouseJournal) Health(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func (j *ClickHouseJournal) Close() error {
	return nil // Managed by pkg
}

// KafkaDecisionPublisher implements DecisionPublisher for Kafka.
type KafkaDecisionPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaDecisionPublisher creates a Kafka decision publisher.
func NewKafkaDecisionPublisher(producer *pkgkafka.Producer, topic string) repository.DecisionPublisher {
	return &KafkaDecisionPublisher{producer: producer, topic: topic}
}

func (p *KafkaDecisionPublisher) Publish(ctx context.Context, d *models.Decision) error {
	return p.producer.Publish(ctx, p.topic, []byte(d.SignalID), map[string]interface{}{
		"signal_id":   d.SignalID,
		"instrument":  d.Instrument,
		"direction":   string(d.Direction),
		"confidence":  d.Confidence,
		"rationale":   d.Rationale,
		"local_price": d.LocalPrice,
		"rsi":         d.RSI,
		"outcome":     string(d.Outcome),
		"resolved_at": d.ResolvedAt.Unix(),
	})
}

func (p *KafkaDecisionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
