// Package pipeline runs batches of case urls through fetching, output
// rendering and storage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"fkd-backend/internal/components/assert"
	"fkd-backend/internal/components/chrono"
	"fkd-backend/internal/components/telemetry"
	"fkd-backend/internal/report"
	"fkd-backend/internal/scrapers/fkd"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	report_runner_expand  = "runner.expand"
	report_runner_process = "runner.process"
	report_runner_results = "runner.results"
)

var tracer = otel.Tracer("fkd.pipeline")
var meter = otel.Meter("fkd.pipeline")
var casesCounter, _ = meter.Int64Counter("fkd.cases", metric.WithDescription("Processed cases by status."))

type Status string

const (
	StatusSuccess  Status = "success"
	StatusExcluded Status = "excluded"
	StatusError    Status = "error"
)

// CaseResult is the outcome of one case url.
type CaseResult struct {
	CaseId        string   `json:"case_id,omitempty"`
	CaseName      string   `json:"case_name,omitempty"`
	Url           string   `json:"url"`
	Status        Status   `json:"status"`
	Outputs       []string `json:"outputs,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
	Message       string   `json:"message,omitempty"`
}

type Summary struct {
	Total    int `json:"total"`
	Success  int `json:"success"`
	Excluded int `json:"excluded"`
	Error    int `json:"error"`
}

type Results struct {
	ProcessedAt string       `json:"processed_at"`
	Summary     Summary      `json:"summary"`
	Cases       []CaseResult `json:"cases"`
}

// Fetcher is the part of fkd.Client the pipeline uses.
type Fetcher interface {
	Case(ctx context.Context, caseUrl string) (fkd.CaseRecord, error)
	Listing(ctx context.Context, listUrl string, limit int) ([]string, error)
}

type Renderer interface {
	Render(ctx context.Context, format report.Format, w io.Writer, record fkd.CaseRecord) error
}

type Store interface {
	Put(ctx context.Context, record fkd.CaseRecord) error
}

type Options struct {
	OutputDir   string
	Formats     []OutputFormat
	Concurrency int
	// Store is optional, records are only written to files when nil.
	Store Store
}

type Runner struct {
	fetcher  Fetcher
	renderer Renderer
	opts     Options
	clock    chrono.API
	tel      telemetry.API
}

func NewRunner(fetcher Fetcher, renderer Renderer, opts Options, clock chrono.API, tel telemetry.API) *Runner {
	assert.NotNil(fetcher)
	assert.NotNil(renderer)
	assert.NotNil(clock)
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.OutputDir)
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	return &Runner{
		fetcher:  fetcher,
		renderer: renderer,
		opts:     opts,
		clock:    clock,
		tel:      telemetry.NewScopedAPI("pipeline", tel),
	}
}

// ExpandTargets turns the given urls into case urls. Listing pages (/lis/)
// expand to at most limit cases each, case pages (/cf/) are kept and
// anything else is skipped with a warning. Duplicates are dropped.
func (r *Runner) ExpandTargets(ctx context.Context, urls []string, limit int) []string {
	var out []string
	seen := map[string]bool{}
	add := func(u string) {
		if seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}

	for _, u := range urls {
		switch {
		case strings.Contains(u, "/lis/"):
			cases, err := r.fetcher.Listing(ctx, u, limit)
			if err != nil {
				r.tel.ReportBroken(report_runner_expand, err, u)
				continue
			}
			r.tel.ReportDebug("expanded listing", u, len(cases))
			for _, c := range cases {
				add(c)
			}
		case strings.Contains(u, "/cf/"):
			add(u)
		default:
			r.tel.ReportWarning(report_runner_expand, errors.New("unknown url kind, skipping"), u)
		}
	}
	return out
}

// Run processes every case url with bounded concurrency. A failing case
// never stops the batch, the results keep the order of caseUrls.
func (r *Runner) Run(ctx context.Context, caseUrls []string) Results {
	results := make([]CaseResult, len(caseUrls))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.opts.Concurrency)
	for i, u := range caseUrls {
		group.Go(func() error {
			results[i] = r.processCase(groupCtx, u)
			return nil
		})
	}
	// processCase reports failures in its result
	_ = group.Wait()

	out := Results{
		ProcessedAt: r.clock.Now().Format("2006-01-02T15:04:05Z07:00"),
		Summary:     Summary{Total: len(caseUrls)},
		Cases:       results,
	}
	for _, c := range results {
		switch c.Status {
		case StatusSuccess:
			out.Summary.Success++
		case StatusExcluded:
			out.Summary.Excluded++
		case StatusError:
			out.Summary.Error++
		}
	}
	r.tel.ReportCount("runner.success", int64(out.Summary.Success))
	r.tel.ReportCount("runner.excluded", int64(out.Summary.Excluded))
	r.tel.ReportCount("runner.error", int64(out.Summary.Error))
	return out
}

func (r *Runner) processCase(ctx context.Context, caseUrl string) (result CaseResult) {
	ctx, span := tracer.Start(ctx, "pipeline.Runner.processCase")
	defer span.End()
	span.SetAttributes(attribute.String("url", caseUrl))

	defer func() {
		span.SetAttributes(attribute.String("status", string(result.Status)))
		casesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(result.Status))))
	}()
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		err := fmt.Errorf("panic: %v", p)
		span.SetStatus(codes.Error, err.Error())
		r.tel.ReportBroken(report_runner_process, err, caseUrl, string(debug.Stack()))
		result = CaseResult{Url: caseUrl, Status: StatusError, Message: err.Error()}
	}()

	record, err := r.fetcher.Case(ctx, caseUrl)
	var missing *fkd.MissingFieldsError
	if errors.As(err, &missing) {
		r.tel.ReportWarning(report_runner_process, err, caseUrl)
		return CaseResult{
			CaseId:        missing.CaseId,
			CaseName:      missing.CaseName,
			Url:           missing.Url,
			Status:        StatusExcluded,
			MissingFields: missing.MissingLabels,
		}
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.tel.ReportBroken(report_runner_process, err, caseUrl)
		return CaseResult{Url: caseUrl, Status: StatusError, Message: err.Error()}
	}

	outputs, err := r.writeOutputs(ctx, record)
	if r.opts.Store != nil {
		if putErr := r.opts.Store.Put(ctx, record); putErr != nil {
			err = errors.Join(err, putErr)
		}
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.tel.ReportBroken(report_runner_process, err, caseUrl)
		return CaseResult{
			CaseId:   record.CaseId,
			CaseName: record.CaseName,
			Url:      caseUrl,
			Status:   StatusError,
			Outputs:  outputs,
			Message:  err.Error(),
		}
	}

	return CaseResult{
		CaseId:   record.CaseId,
		CaseName: record.CaseName,
		Url:      caseUrl,
		Status:   StatusSuccess,
		Outputs:  outputs,
	}
}

// RenderFile writes the outputs of an already harvested record, the
// render command uses it to re-render stored JSON.
func (r *Runner) RenderFile(ctx context.Context, record fkd.CaseRecord) ([]string, error) {
	outputs, err := r.writeOutputs(ctx, record)
	if err != nil {
		return outputs, fmt.Errorf("render %s: %w", record.CaseId, err)
	}
	return outputs, nil
}
