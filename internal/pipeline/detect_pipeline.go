package pipeline

import (
	"context"
	"sync"
	"time"

	"flowsentry/internal/alerts"
	"flowsentry/internal/detector"
	inputredis "flowsentry/internal/input/redis"
	"flowsentry/internal/intake"
	"flowsentry/internal/logger"
	"flowsentry/internal/metrics"
	"flowsentry/internal/retrain"
	"flowsentry/internal/rules"
	"flowsentry/internal/transform/netflow"
	"flowsentry/pkg/models"
)

// DetectPipeline consumes flows from Redis, scores them against the current
// model, and routes them through intake into the accumulation store. Flows
// that clear both detection thresholds become alerts.
type DetectPipeline struct {
	consumer      *inputredis.Consumer
	engine        rules.Engine
	orch          *retrain.Orchestrator
	intake        *intake.Intake
	builder       *alerts.Builder
	alertWriter   AlertWriter
	metrics       *metrics.Set
	workers       int
	batchSize     int
	flushInterval time.Duration
}

type workItem struct {
	flow  *models.FlowRecord
	alert *models.Alert
}

// NewDetectPipeline creates a detection pipeline over a Redis flow queue.
func NewDetectPipeline(consumer *inputredis.Consumer, engine rules.Engine, orch *retrain.Orchestrator, in *intake.Intake, builder *alerts.Builder, alertWriter AlertWriter, mset *metrics.Set, workers, batchSize int, flushInterval time.Duration) *DetectPipeline {
	return &DetectPipeline{
		consumer:      consumer,
		engine:        engine,
		orch:          orch,
		intake:        in,
		builder:       builder,
		alertWriter:   alertWriter,
		metrics:       mset,
		workers:       workers,
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

// Run starts the pipeline loop and blocks until ctx is cancelled.
func (p *DetectPipeline) Run(ctx context.Context) error {
	logger.Infof("Detection pipeline started")

	if p.workers <= 0 {
		p.workers = 4
	}
	if p.batchSize <= 0 {
		p.batchSize = 200
	}
	if p.flushInterval <= 0 {
		p.flushInterval = 2 * time.Second
	}

	msgCh := make(chan []byte, p.workers*4)
	workCh := make(chan workItem, p.workers*4)

	var wg sync.WaitGroup
	var workerWg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	for i := 0; i < p.workers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			p.workerLoop(msgCh, workCh)
		}()
	}

	// workCh closes only after every worker has drained, so a worker still
	// holding a parsed flow at shutdown never sends on a closed channel.
	wg.Add(1)
	go func() {
		defer wg.Done()
		workerWg.Wait()
		close(workCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.writeLoop(ctx, workCh)
	}()

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *DetectPipeline) Close() error {
	if p.alertWriter != nil {
		if err := p.alertWriter.Close(); err != nil {
			logger.Errorf("Failed to close alert writer: %v", err)
		}
	}
	if p.consumer != nil {
		return p.consumer.Close()
	}
	return nil
}

func (p *DetectPipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		payload, err := p.consumer.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop redis message: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if payload == nil {
			continue
		}
		out <- payload
	}
}

func (p *DetectPipeline) workerLoop(in <-chan []byte, out chan<- workItem) {
	for payload := range in {
		flow, err := netflow.Parse(payload)
		if err != nil {
			logger.Warnf("Failed to parse flow payload: %v", err)
			continue
		}

		item := workItem{flow: flow}
		if model := p.orch.CurrentModel(); model != nil {
			verdict := detector.Score(model, flow)
			if p.metrics != nil {
				p.metrics.FlowsScored.Inc()
			}
			if detector.ShouldAlert(model, verdict) {
				var tags []models.RuleTag
				if p.engine != nil {
					tags = p.engine.Apply(flow)
				}
				item.alert = p.builder.Build(model, flow, verdict, tags)
			}
		}
		out <- item
	}
}

func (p *DetectPipeline) writeLoop(ctx context.Context, in <-chan workItem) {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	var batchFlows []*models.FlowRecord
	var batchAlerts []*models.Alert

	flush := func() {
		if len(batchFlows) > 0 {
			for {
				_, _, err := p.intake.Ingest(batchFlows)
				if err != nil {
					logger.Errorf("Failed to ingest flow batch: %v", err)
					select {
					case <-ctx.Done():
						return
					case <-time.After(1 * time.Second):
					}
					continue
				}
				batchFlows = nil
				break
			}
		}
		if p.alertWriter != nil && len(batchAlerts) > 0 {
			for {
				if err := p.alertWriter.WriteAlerts(batchAlerts); err != nil {
					logger.Errorf("Failed to write alerts: %v", err)
					select {
					case <-ctx.Done():
						return
					case <-time.After(1 * time.Second):
					}
					continue
				}
				batchAlerts = nil
				break
			}
		}
	}

	// Drains until the work channel closes; cancellation is observed through
	// the channel close so in-flight items are never stranded.
	for {
		select {
		case <-ticker.C:
			flush()
		case item, ok := <-in:
			if !ok {
				flush()
				return
			}
			if item.flow != nil {
				batchFlows = append(batchFlows, item.flow)
			}
			if item.alert != nil {
				batchAlerts = append(batchAlerts, item.alert)
				if p.metrics != nil {
					p.metrics.AlertsRaised.WithLabelValues(item.alert.Category).Inc()
				}
			}
			if len(batchFlows) >= p.batchSize {
				flush()
			}
		}
	}
}
