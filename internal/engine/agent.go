package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aurelia-home/synergy-engine/internal/engine/calibrate"
	"github.com/aurelia-home/synergy-engine/internal/engine/detector"
	"github.com/aurelia-home/synergy-engine/internal/engine/embedding"
	"github.com/aurelia-home/synergy-engine/internal/engine/lifecycle"
	"github.com/aurelia-home/synergy-engine/internal/engine/scoring"
	"github.com/aurelia-home/synergy-engine/internal/engine/storage"
	synergypkg "github.com/aurelia-home/synergy-engine/internal/engine/synergy"
	"github.com/aurelia-home/synergy-engine/internal/engine/types"
	"github.com/aurelia-home/synergy-engine/internal/engine/update"
	"github.com/aurelia-home/synergy-engine/pkg/config"
	"github.com/aurelia-home/synergy-engine/pkg/embed"
	"github.com/aurelia-home/synergy-engine/pkg/mqtt"
	"github.com/aurelia-home/synergy-engine/pkg/postgres"
	"github.com/aurelia-home/synergy-engine/pkg/redis"
)

// Agent wires the detection pipeline together and drives it on schedule:
// hourly incremental passes, daily lifecycle sweeps, daily calibration
// retrains, plus MQTT triggers for forcing any of the three.
type Agent struct {
	mqtt   mqtt.Client
	redis  redis.Client
	pg     postgres.Client
	cfg    *config.Config
	logger *slog.Logger

	patterns  *storage.PatternStorage
	synergies *storage.SynergyStorage
	catalog   *storage.CatalogStorage
	feedback  *storage.FeedbackStorage

	registry   *detector.Registry
	updater    *update.Manager
	analyzer   *synergypkg.Analyzer
	extractor  *synergypkg.Extractor
	calibrator *calibrate.Calibrator
	scorer     *scoring.Scorer
	sweeper    *lifecycle.Sweeper
	cache      *embedding.Cache
	vectors    *cacheVectorSource
	service    *Service

	// storeMu keeps the lifecycle sweep from running concurrently with an
	// incremental cycle against the same pattern store.
	storeMu sync.Mutex
	// cycleMu prevents overlapping incremental cycles when a manual trigger
	// lands mid-run.
	cycleMu sync.Mutex
}

// NewAgent builds the full pipeline. The postgres client must already be
// connected so the storage layers can be constructed.
func NewAgent(mqttClient mqtt.Client, redisClient redis.Client, pgClient postgres.Client, cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	db := pgClient.DB()
	if db == nil {
		return nil, fmt.Errorf("postgres client is not connected")
	}

	a := &Agent{
		mqtt:   mqttClient,
		redis:  redisClient,
		pg:     pgClient,
		cfg:    cfg,
		logger: logger,
	}

	a.patterns = storage.NewPatternStorage(db)
	a.synergies = storage.NewSynergyStorage(db)
	a.catalog = storage.NewCatalogStorage(db)
	a.feedback = storage.NewFeedbackStorage(db)
	calibrationStore := storage.NewCalibrationStorage(db)

	var backend embed.Client
	if cfg.EmbeddingEndpoint != "" {
		backend = embed.NewOllamaClient(cfg.EmbeddingEndpoint, cfg.EmbeddingModel, cfg.EmbeddingDimension, cfg.EmbeddingTimeout, logger)
	} else {
		logger.Info("No embedding endpoint configured, similarity filtering disabled")
	}
	a.cache = embedding.NewCache(backend, redisClient, a.catalog, cfg.EmbeddingCacheTTL, logger)
	a.vectors = &cacheVectorSource{cache: a.cache}

	weights := scoring.Weights{
		Frequency:    cfg.WeightFrequency,
		Energy:       cfg.WeightEnergy,
		TimeSaved:    cfg.WeightTimeSaved,
		Satisfaction: cfg.WeightSatisfaction,
	}
	if cfg.ScoringWeightsFile != "" {
		loaded, err := scoring.LoadWeightsFile(cfg.ScoringWeightsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load scoring weights: %w", err)
		}
		weights = loaded
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	a.scorer = scoring.NewScorer(weights, a.feedback, logger)

	a.calibrator = calibrate.NewCalibrator(calibrationStore, a.feedback, cfg.CalibrationMinSamples, logger)

	a.registry = detector.NewRegistry(logger)
	if err := a.registerDetectors(); err != nil {
		return nil, err
	}

	a.updater = update.NewManager(
		a.patterns, a.catalog, a.catalog, a.registry, a.calibrator, a.scorer,
		cfg.FetchRetryAttempts, cfg.FetchRetryBackoff, logger)

	a.analyzer = synergypkg.NewAnalyzer(
		time.Duration(cfg.PairWindowSeconds)*time.Second,
		cfg.PairMinOccurrences,
		cfg.PairSaturationCount,
		time.Duration(cfg.ImpactHalfLifeDays*24)*time.Hour,
		logger)

	a.extractor = synergypkg.NewExtractor(
		cfg.ChainMaxDepth, cfg.ChainMaxInput, cfg.ChainMaxOutput,
		cfg.ChainSimilarityThreshold, a.vectors, logger)

	a.sweeper = lifecycle.NewSweeper(
		a.patterns,
		time.Duration(cfg.StaleThresholdDays)*24*time.Hour,
		time.Duration(cfg.DeleteThresholdDays)*24*time.Hour,
		logger)

	a.service = NewService(a.patterns, a.synergies, a.feedback, a.sweeper, redisClient,
		cfg.DetectorFailureThreshold, cfg.HealthWindowRuns, logger)

	return a, nil
}

func (a *Agent) registerDetectors() error {
	window := time.Duration(a.cfg.PairWindowSeconds) * time.Second
	minOcc := a.cfg.PairMinOccurrences
	gap := time.Duration(a.cfg.SessionGapMinutes) * time.Minute

	detectors := []detector.Detector{
		detector.NewSequenceDetector(2*time.Minute, minOcc),
		detector.NewContextualDetector(window, minOcc),
		detector.NewRoomBasedDetector(window, minOcc),
		detector.NewSessionDetector(gap, minOcc),
		detector.NewDurationDetector(minOcc + 2),
		detector.NewDayTypeDetector(minOcc * 2),
		detector.NewSeasonalDetector(a.cfg.Latitude, a.cfg.Longitude, minOcc*2),
		detector.NewAnomalyDetector(20),
	}

	for _, d := range detectors {
		if err := a.registry.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Service exposes the collaborator surface backed by this agent's stores.
func (a *Agent) Service() *Service {
	return a.service
}

// Start connects to MQTT, loads calibration state, subscribes to the manual
// trigger topics, and runs the schedulers until the context is cancelled.
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Info("Starting synergy engine agent")

	if err := a.mqtt.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	a.calibrator.LoadModels(ctx)

	triggers := map[string]mqtt.MessageHandler{
		mqtt.TopicTriggerRun:         a.handleRunTrigger(ctx),
		mqtt.TopicTriggerSweep:       a.handleSweepTrigger(ctx),
		mqtt.TopicTriggerRecalibrate: a.handleRecalibrateTrigger(ctx),
	}
	for topic, handler := range triggers {
		if err := a.mqtt.Subscribe(topic, 0, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	a.logger.Info("Subscribed to trigger topics",
		"topics", []string{mqtt.TopicTriggerRun, mqtt.TopicTriggerSweep, mqtt.TopicTriggerRecalibrate})

	go a.runIncrementalLoop(ctx)
	go a.runSweepLoop(ctx)
	go a.runRetrainLoop(ctx)

	<-ctx.Done()
	return nil
}

// Stop disconnects the agent's clients.
func (a *Agent) Stop() error {
	a.logger.Info("Stopping synergy engine agent")
	a.mqtt.Disconnect()
	return a.pg.Disconnect()
}

func (a *Agent) runIncrementalLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.IncrementalInterval)
	defer ticker.Stop()

	a.logger.Info("Starting incremental loop", "interval", a.cfg.IncrementalInterval)

	// First pass right away so a fresh deployment produces output before the
	// first tick.
	a.runIncrementalCycle(ctx, "")

	for {
		select {
		case <-ticker.C:
			a.runIncrementalCycle(ctx, "")
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) runSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	a.logger.Info("Starting lifecycle sweep loop", "interval", a.cfg.SweepInterval)

	for {
		select {
		case <-ticker.C:
			a.runSweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) runRetrainLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.RetrainInterval)
	defer ticker.Stop()

	a.logger.Info("Starting calibration retrain loop", "interval", a.cfg.RetrainInterval)

	for {
		select {
		case <-ticker.C:
			a.runRetrain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// runIncrementalCycle runs the detector ensemble and the synergy pipeline.
// detectorID narrows the cycle to one detector when a manual trigger names
// one; empty means all.
func (a *Agent) runIncrementalCycle(ctx context.Context, detectorID string) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()
	a.storeMu.Lock()
	defer a.storeMu.Unlock()

	started := time.Now()

	devices, err := a.catalog.Devices(ctx)
	if err != nil {
		a.logger.Error("Device fetch failed, skipping cycle", "error", err)
		return
	}
	a.scorer.UpdateDevices(devices)
	a.vectors.update(devices)

	if a.cache.Available() {
		if err := a.cache.BulkRefresh(ctx, devices); err != nil {
			a.logger.Warn("Embedding refresh failed, continuing without fresh vectors", "error", err)
		}
	}

	detectors := a.registry.All()
	if detectorID != "" {
		d := a.registry.ByID(detectorID)
		if d == nil {
			a.logger.Warn("Trigger named unknown detector", "detector", detectorID)
			return
		}
		detectors = []detector.Detector{d}
	}

	// Detectors are independent and each commits its own transaction, so the
	// ensemble can run concurrently.
	var wg sync.WaitGroup
	results := make([]*update.RunResult, len(detectors))

	for i, d := range detectors {
		wg.Add(1)
		go func(i int, d detector.Detector) {
			defer wg.Done()

			result, err := a.updater.RunIncremental(ctx, d.ID())
			if err != nil && result == nil {
				a.logger.Error("Detector run could not start", "detector", d.ID(), "error", err)
				return
			}
			results[i] = result
		}(i, d)
	}
	wg.Wait()

	succeeded, failed := 0, 0
	for _, r := range results {
		if r == nil {
			failed++
			continue
		}
		a.service.RecordRun(ctx, r.DetectorID, r.Stats)
		if r.Stats.Succeeded {
			succeeded++
		} else {
			failed++
		}
	}

	if detectorID == "" {
		a.runSynergyPipeline(ctx, devices)
	}

	a.publishJSON(mqtt.TopicRunCompleted, map[string]interface{}{
		"detectors_succeeded": succeeded,
		"detectors_failed":    failed,
		"duration_ms":         time.Since(started).Milliseconds(),
		"completed_at":        time.Now().Format(time.RFC3339),
	})
}

// runSynergyPipeline re-derives pairs and chains over the lookback window and
// upserts them by chain key. Stages are sequential: pairs feed depth 3, depth
// 3 feeds depth 4.
func (a *Agent) runSynergyPipeline(ctx context.Context, devices []types.Device) {
	end := time.Now()
	start := end.Add(-time.Duration(a.cfg.SynergyLookbackDays) * 24 * time.Hour)

	events, err := a.catalog.EventsBetween(ctx, nil, start, end)
	if err != nil {
		a.logger.Error("Event fetch for synergy pipeline failed", "error", err)
		return
	}

	areaByEntity := make(map[string]string, len(devices))
	for _, d := range devices {
		areaByEntity[d.EntityID] = d.Area
	}

	pairs := a.analyzer.FindPairs(events, areaByEntity, end)

	chains, err := a.extractor.Extract(ctx, pairs)
	if err != nil {
		a.logger.Error("Chain extraction failed", "error", err)
		return
	}

	all := append(pairs, chains...)
	if len(all) == 0 {
		a.logger.Info("Synergy pipeline produced no qualifying chains", "events", len(events))
		return
	}

	if err := a.synergies.UpsertSynergies(ctx, all); err != nil {
		a.logger.Error("Synergy upsert failed", "error", err)
		return
	}

	a.logger.Info("Synergy pipeline complete",
		"events", len(events),
		"pairs", len(pairs),
		"chains", len(chains))
}

func (a *Agent) runSweep(ctx context.Context) {
	a.storeMu.Lock()
	defer a.storeMu.Unlock()

	report, err := a.sweeper.Sweep(ctx)
	if err != nil {
		a.logger.Error("Lifecycle sweep failed", "error", err)
		return
	}

	a.service.RecordSweep(ctx, report)

	a.publishJSON(mqtt.TopicSweepCompleted, report)
}

func (a *Agent) runRetrain(ctx context.Context) {
	if err := a.calibrator.RetrainAll(ctx); err != nil {
		a.logger.Error("Calibration retrain failed", "error", err)
		return
	}

	rescored, err := a.rescoreActivePatterns(ctx)
	if err != nil {
		a.logger.Error("Post-retrain rescore failed", "error", err)
		return
	}

	a.publishJSON(mqtt.TopicCalibrationCompleted, map[string]interface{}{
		"patterns_rescored": rescored,
		"completed_at":      time.Now().Format(time.RFC3339),
	})
}

// rescoreActivePatterns rewrites calibrated confidence and utility for every
// active pattern after a retrain, so stored scores reflect the new model.
func (a *Agent) rescoreActivePatterns(ctx context.Context) (int, error) {
	a.storeMu.Lock()
	defer a.storeMu.Unlock()

	patterns, err := a.patterns.ActivePatterns(ctx, storage.PatternFilter{})
	if err != nil {
		return 0, err
	}

	for _, p := range patterns {
		p.CalibratedConfidence = a.calibrator.Calibrate(p.PatternType, p.RawConfidence)
		p.UtilityScore = a.scorer.Score(ctx, p)
		if err := a.patterns.UpdateScores(ctx, p.ID, p.CalibratedConfidence, p.UtilityScore); err != nil {
			return 0, err
		}
	}

	return len(patterns), nil
}

func (a *Agent) handleRunTrigger(ctx context.Context) mqtt.MessageHandler {
	return func(msg mqtt.Message) {
		detectorID := strings.TrimSpace(string(msg.Payload()))
		a.logger.Info("Manual run triggered", "detector", detectorID)
		go a.runIncrementalCycle(ctx, detectorID)
	}
}

func (a *Agent) handleSweepTrigger(ctx context.Context) mqtt.MessageHandler {
	return func(msg mqtt.Message) {
		a.logger.Info("Manual lifecycle sweep triggered")
		go a.runSweep(ctx)
	}
}

func (a *Agent) handleRecalibrateTrigger(ctx context.Context) mqtt.MessageHandler {
	return func(msg mqtt.Message) {
		a.logger.Info("Manual recalibration triggered")
		go a.runRetrain(ctx)
	}
}

func (a *Agent) publishJSON(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("Failed to marshal publish payload", "topic", topic, "error", err)
		return
	}
	if err := a.mqtt.Publish(topic, 0, false, data); err != nil {
		a.logger.Warn("Failed to publish", "topic", topic, "error", err)
	}
}

// cacheVectorSource adapts the embedding cache to the chain extractor, which
// only knows entity ids. Unknown entities yield a nil vector, disabling the
// similarity filter for chains touching them.
type cacheVectorSource struct {
	cache *embedding.Cache

	mu      sync.RWMutex
	devices map[string]types.Device
}

func (s *cacheVectorSource) update(devices []types.Device) {
	byID := make(map[string]types.Device, len(devices))
	for _, d := range devices {
		byID[d.EntityID] = d
	}
	s.mu.Lock()
	s.devices = byID
	s.mu.Unlock()
}

func (s *cacheVectorSource) Vector(ctx context.Context, entityID string) ([]float32, error) {
	s.mu.RLock()
	device, ok := s.devices[entityID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return s.cache.Embedding(ctx, device)
}
