package usecase

import (
	"context"
	"encoding/json"
	"time"

	"FuseGate/internal/domain/models"
	domrepo "FuseGate/internal/domain/repository"
	mid "FuseGate/internal/middleware"
	pkgkafka "FuseGate/pkg/kafka"
)

// KafkaSamplesHandler feeds samples from a Kafka topic into the admission
// pipeline. Alternative to the websocket feed for replay and fan-in setups.
type KafkaSamplesHandler struct {
	topic   string
	pipe    *mid.SamplePipeline
	metrics domrepo.Metrics
}

func NewKafkaSamplesHandler(topic string, pipe *mid.SamplePipeline, metrics domrepo.Metrics) *KafkaSamplesHandler {
	return &KafkaSamplesHandler{topic: topic, pipe: pipe, metrics: metrics}
}

func (h *KafkaSamplesHandler) Topic() string { return h.topic }

// incoming message schema: {instrument, t, p}
func (h *KafkaSamplesHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Instrument string  `json:"instrument"`
		T          int64   `json:"t"`
		P          float64 `json:"p"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if m.T > 1e11 { // ms
		m.T = m.T / 1000
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(time.Unix(m.T, 0)).Seconds())

	return h.pipe.Process(ctx, &models.PriceSample{
		Instrument: m.Instrument,
		Timestamp:  time.Unix(m.T, 0).UTC(),
		Price:      m.P,
	})
}

var _ pkgkafka.MessageHandler = (*KafkaSamplesHandler)(nil)
