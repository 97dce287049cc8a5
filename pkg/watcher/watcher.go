// Package watcher runs the periodic maturity scan that drives attestation
// of matured, unsigned events.
package watcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/btcoracle/ernest/pkg/attester"
	"github.com/btcoracle/ernest/pkg/oracleerr"
	"github.com/btcoracle/ernest/pkg/oraclemetrics"
	"github.com/btcoracle/ernest/pkg/parlay"
	"github.com/btcoracle/ernest/pkg/statssource"
	"github.com/btcoracle/ernest/pkg/store"
	"github.com/btcoracle/ernest/pkg/wireformat"
)

// DefaultInterval is the default tick cadence, overridable via the
// WATCHER_INTERVAL environment variable.
const DefaultInterval = 60 * time.Second

// Watcher periodically locates matured, unsigned events of each kind and
// drives their attestation.
type Watcher struct {
	store    *store.Store
	attester *attester.Attester
	stats    *statssource.Client
	log      *zap.Logger
	interval time.Duration
}

// New builds a Watcher.
func New(st *store.Store, att *attester.Attester, stats *statssource.Client, log *zap.Logger, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{store: st, attester: att, stats: stats, log: log, interval: interval}
}

// Run ticks every interval until ctx is cancelled, which the server wires to
// the process's graceful-shutdown signal. After the current tick's
// in-flight sign completes, the loop exits.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watcher stopping")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	start := time.Now()
	defer func() { oraclemetrics.WatcherTickSeconds.Observe(time.Since(start).Seconds()) }()

	now := time.Now()
	for _, et := range statssource.AvailableEventTypes() {
		w.tickEventType(ctx, string(et), now)
	}
	w.tickParlay(ctx, now)
}

func (w *Watcher) tickEventType(ctx context.Context, eventType string, now time.Time) {
	matured, err := w.store.ListMaturedUnsigned(ctx, eventType, now)
	if err != nil {
		w.log.Error("list matured unsigned events", zap.String("event_type", eventType), zap.Error(err))
		return
	}

	for _, m := range matured {
		oracleEvent, err := wireformat.ParseOracleEvent(m.OracleEvent)
		if err != nil {
			w.log.Error("parse stored oracle event", zap.String("event_id", m.EventID), zap.Error(err))
			continue
		}

		et, err := statssource.ParseEventType(oracleEvent.Descriptor.Unit)
		if err != nil {
			w.log.Error("unrecognized event unit", zap.String("event_id", m.EventID), zap.String("unit", oracleEvent.Descriptor.Unit))
			continue
		}

		outcome, err := w.stats.SampleOutcome(ctx, et)
		if err != nil {
			oraclemetrics.StatsSourceFailures.WithLabelValues(string(et)).Inc()
			w.log.Error("sample stats source", zap.String("event_id", m.EventID), zap.Error(err))
			continue
		}

		// Attest rejects enum-tagged events itself (ev.IsEnum, from the
		// events.is_enum column) -- the numeric descriptor's IsSigned field
		// is an is-signed-integer flag, not an enum discriminator, so there
		// is nothing for the watcher to check ahead of the call.
		if _, err := w.attester.Attest(ctx, m.EventID, outcome); err != nil {
			w.log.Error("attest event", zap.String("event_id", m.EventID), zap.Int64("outcome", outcome), zap.Error(err))
			continue
		}
		oraclemetrics.AttestationsSigned.WithLabelValues("single").Inc()

		if err := w.store.SaveAttestationOutcome(ctx, m.EventID, float64(outcome), uint64(outcome), nil); err != nil {
			w.log.Error("save attestation audit row", zap.String("event_id", m.EventID), zap.Error(err))
		}

		w.log.Info("signed event", zap.String("event_id", m.EventID), zap.Int64("outcome", outcome))
	}
}

func (w *Watcher) tickParlay(ctx context.Context, now time.Time) {
	matured, err := w.store.ListMaturedUnsigned(ctx, "parlay", now)
	if err != nil {
		w.log.Error("list matured unsigned parlay events", zap.Error(err))
		return
	}

	for _, m := range matured {
		contractRow, err := w.store.GetParlayContract(ctx, m.EventID)
		if err != nil {
			w.log.Error("load parlay contract", zap.String("event_id", m.EventID), zap.Error(err))
			continue
		}

		contract, samples, err := w.sampleParlay(ctx, contractRow)
		if err != nil {
			w.log.Error("sample parlay parameters", zap.String("event_id", m.EventID), zap.Error(err))
			continue
		}

		eval, err := parlay.Evaluate(contract, samples)
		if err != nil {
			w.log.Error("evaluate parlay contract", zap.String("event_id", m.EventID), zap.Error(err))
			continue
		}

		if _, err := w.attester.Attest(ctx, m.EventID, int64(eval.Attestable)); err != nil {
			w.log.Error("attest parlay event", zap.String("event_id", m.EventID), zap.Error(err))
			continue
		}
		oraclemetrics.AttestationsSigned.WithLabelValues("parlay").Inc()

		audit := make([]store.ParlayDataOutcome, len(eval.DataOutcomes))
		for i, d := range eval.DataOutcomes {
			audit[i] = store.ParlayDataOutcome(d)
		}
		if err := w.store.SaveAttestationOutcome(ctx, m.EventID, eval.CombinedScore, eval.Attestable, audit); err != nil {
			w.log.Error("save parlay attestation audit rows", zap.String("event_id", m.EventID), zap.Error(err))
		}

		w.log.Info("signed parlay event", zap.String("event_id", m.EventID), zap.Uint64("attestable", eval.Attestable))
	}
}

func (w *Watcher) sampleParlay(ctx context.Context, row *store.ParlayContractRow) (parlay.Contract, map[string]float64, error) {
	method, err := parlay.ParseCombinationMethod(row.CombinationMethod)
	if err != nil {
		return parlay.Contract{}, nil, oracleerr.Wrap(oracleerr.Storage, "parse combination method", err)
	}

	contract := parlay.Contract{
		ID:                 row.ID,
		CombinationMethod:  method,
		MaxNormalizedValue: row.MaxNormalizedValue,
	}

	samples := make(map[string]float64, len(row.Parameters))
	for _, p := range row.Parameters {
		transformation, err := parlay.ParseTransformationFunction(p.Transformation)
		if err != nil {
			return parlay.Contract{}, nil, oracleerr.Wrap(oracleerr.Storage, "parse transformation", err)
		}
		contract.Parameters = append(contract.Parameters, parlay.Parameter{
			DataType:         p.DataType,
			Threshold:        p.Threshold,
			Range:            p.Range,
			IsAboveThreshold: p.IsAboveThreshold,
			Transformation:   transformation,
			Weight:           p.Weight,
		})

		if _, ok := samples[p.DataType]; ok {
			continue
		}
		et, err := statssource.ParseEventType(p.DataType)
		if err != nil {
			return parlay.Contract{}, nil, oracleerr.Wrap(oracleerr.InvalidParam, "parse parameter data type", err)
		}
		v, err := w.stats.Sample(ctx, et)
		if err != nil {
			oraclemetrics.StatsSourceFailures.WithLabelValues(string(et)).Inc()
			return parlay.Contract{}, nil, err
		}
		samples[p.DataType] = v
	}

	return contract, samples, nil
}
