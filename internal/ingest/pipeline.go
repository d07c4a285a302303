// Package ingest orchestrates a full ingestion run: plan the vendor-legal
// windows for the requested range, fetch and normalize each window in
// order, and commit its records before moving on. Windows run strictly
// sequentially; the vendors enforce a global per-account request rate and
// parallel windows would only trip it faster.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mbenton/wattflume/internal/credentials"
	"github.com/mbenton/wattflume/internal/database"
	"github.com/mbenton/wattflume/internal/enphase"
	"github.com/mbenton/wattflume/internal/flume"
	"github.com/mbenton/wattflume/internal/normalize"
	"github.com/mbenton/wattflume/internal/window"
	"github.com/mbenton/wattflume/pkg/models"
	"go.uber.org/zap"
)

// WindowStatus is the terminal state of one window within a run.
type WindowStatus string

const (
	StatusStored   WindowStatus = "stored"
	StatusEmpty    WindowStatus = "empty"    // well-formed response with no intervals
	StatusDegraded WindowStatus = "degraded" // partial day, one rate-limited half dropped
	StatusAborted  WindowStatus = "aborted"
)

// WindowResult reports what happened to one window.
type WindowResult struct {
	Start   time.Time
	End     time.Time
	Status  WindowStatus
	Records int
	Err     error
}

// Report summarizes a run: the outcome of every window attempted and the
// first fatal cause when the run aborted. Windows after an abort are not
// attempted, but records committed by earlier windows stay stored.
type Report struct {
	Kind    models.Kind
	Windows []WindowResult
	Fatal   error
}

// Stored returns the total records committed across all windows.
func (r *Report) Stored() int {
	total := 0
	for _, w := range r.Windows {
		total += w.Records
	}
	return total
}

// Aborted reports whether the run stopped before processing every window.
func (r *Report) Aborted() bool {
	return r.Fatal != nil
}

// Pipeline wires the planner, vendor clients, normalizer, and store into
// one ingestion flow.
type Pipeline struct {
	Enphase *enphase.Client
	Flume   *flume.Client
	Store   *database.DB
	DumpDir string
	Logger  *zap.Logger
}

// Run ingests the requested range for one data kind. The credential is
// only consulted for water runs; energy kinds authenticate with the API
// key baked into the Enphase client. The returned error covers planning
// and setup problems only; fetch failures land in the report.
func (p *Pipeline) Run(ctx context.Context, kind models.Kind, startDate, endDate string, cred *credentials.Credential) (*Report, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	report := &Report{Kind: kind}
	switch kind {
	case models.KindGeneration, models.KindConsumption:
		windows, err := planEnergy(kind, startDate, endDate)
		if err != nil {
			return nil, err
		}
		p.runEnergy(ctx, logger, report, windows)
	case models.KindWater:
		if cred == nil {
			return nil, fmt.Errorf("water ingestion requires a credential")
		}
		windows, err := window.PlanWater(startDate, endDate)
		if err != nil {
			return nil, err
		}
		p.runWater(ctx, logger, report, windows, cred)
	default:
		return nil, fmt.Errorf("unknown data kind %q", kind)
	}

	return report, nil
}

func planEnergy(kind models.Kind, startDate, endDate string) ([]window.FetchWindow, error) {
	if kind == models.KindGeneration {
		return window.PlanGeneration(startDate, endDate)
	}
	return window.PlanConsumption(startDate, endDate)
}

func (p *Pipeline) runEnergy(ctx context.Context, logger *zap.Logger, report *Report, windows []window.FetchWindow) {
	for _, w := range windows {
		logger.Info("fetching window",
			zap.String("kind", string(w.Kind)),
			zap.Time("start", w.Start),
			zap.Time("end", w.End))

		payload, err := p.Enphase.Fetch(ctx, w)
		if err != nil {
			report.Windows = append(report.Windows, WindowResult{Start: w.Start, End: w.End, Status: StatusAborted, Err: err})
			report.Fatal = err
			return
		}

		p.dump(logger, w, payload)

		records := normalize.Enphase(payload, w.Kind)
		result, err := p.store(records, w)
		if err != nil {
			report.Windows = append(report.Windows, result)
			report.Fatal = err
			return
		}
		report.Windows = append(report.Windows, result)
	}
}

func (p *Pipeline) runWater(ctx context.Context, logger *zap.Logger, report *Report, windows []window.FetchWindow, cred *credentials.Credential) {
	// Water windows come from the planner as AM/PM pairs per day.
	for i := 0; i+1 < len(windows); i += 2 {
		am, pm := windows[i], windows[i+1]
		logger.Info("fetching day", zap.String("date", am.Start.Format("2006-01-02")))

		samples, freshCred, degraded, err := p.Flume.FetchDay(ctx, cred, am, pm)
		cred = freshCred
		if err != nil {
			report.Windows = append(report.Windows, WindowResult{Start: am.Start, End: pm.End, Status: StatusAborted, Err: err})
			report.Fatal = err
			return
		}

		day := window.FetchWindow{Start: am.Start, End: pm.End, Kind: models.KindWater}
		p.dump(logger, day, samples)

		records := normalize.Flume(samples)
		result, err := p.store(records, day)
		if err != nil {
			report.Windows = append(report.Windows, result)
			report.Fatal = err
			return
		}
		if degraded && result.Status == StatusStored {
			result.Status = StatusDegraded
		}
		report.Windows = append(report.Windows, result)
	}
}

// store commits one window's records. Storage happens here, per window, so
// an abort later in the run never rolls back earlier days.
func (p *Pipeline) store(records []models.IntervalRecord, w window.FetchWindow) (WindowResult, error) {
	result := WindowResult{Start: w.Start, End: w.End}
	if len(records) == 0 {
		result.Status = StatusEmpty
		return result, nil
	}

	for i := range records {
		if err := p.Store.InsertInterval(&records[i]); err != nil {
			result.Status = StatusAborted
			result.Err = err
			return result, err
		}
		result.Records++
	}
	result.Status = StatusStored
	return result, nil
}

// dump writes the decoded vendor payload for a window to the dump
// directory, when one is configured.
func (p *Pipeline) dump(logger *zap.Logger, w window.FetchWindow, payload interface{}) {
	if p.DumpDir == "" {
		return
	}

	name := fmt.Sprintf("%s-%s.json", w.Start.Format("2006-01-02"), w.Kind)
	path := filepath.Join(p.DumpDir, name)

	data, err := json.Marshal(payload)
	if err == nil {
		err = os.WriteFile(path, data, 0644)
	}
	if err != nil {
		// A failed dump never fails the run.
		logger.Warn("writing raw dump", zap.String("path", path), zap.Error(err))
	}
}
