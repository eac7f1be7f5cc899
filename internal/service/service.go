// Package service serves stored case records over a read-only HTTP API.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"fkd-backend/internal/components/assert"
	"fkd-backend/internal/components/telemetry"
	"fkd-backend/internal/render/svg"
	"fkd-backend/internal/report"
	"fkd-backend/internal/scenario"
	"fkd-backend/internal/scrapers/fkd"
	"fkd-backend/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	report_service_list   = "service.list"
	report_service_get    = "service.get"
	report_service_render = "service.render"
	report_service_serve  = "service.serve"
)

var tracer = otel.Tracer("fkd.service")

// CaseStore is the read side of store.Store.
type CaseStore interface {
	Get(ctx context.Context, id string) (fkd.CaseRecord, error)
	List(ctx context.Context) ([]store.Summary, error)
}

type Renderer interface {
	Render(ctx context.Context, format report.Format, w io.Writer, record fkd.CaseRecord) error
}

type Service struct {
	cases    CaseStore
	renderer Renderer
	tel      telemetry.API
}

type serviceConfig struct {
	tel telemetry.API
}

type Option func(cfg *serviceConfig)

func WithTelemetry(tel telemetry.API) Option {
	return func(cfg *serviceConfig) {
		cfg.tel = tel
	}
}

func NewService(cases CaseStore, renderer Renderer, options ...Option) Service {
	assert.NotNil(cases)
	assert.NotNil(renderer)

	cfg := serviceConfig{}
	for _, opt := range options {
		opt(&cfg)
	}
	tel := cfg.tel
	if tel == nil {
		tel = telemetry.SlogAPI{}
	}

	return Service{
		cases:    cases,
		renderer: renderer,
		tel:      telemetry.NewScopedAPI("service", tel),
	}
}

// Handler routes:
//
//	GET /cases
//	GET /cases/{id}
//	GET /cases/{id}/scenario.svg
//	GET /cases/{id}/report.html
//	GET /cases/{id}/report.pdf
//	GET /cases/{id}/report.docx
func (s Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cases", s.handleList)
	mux.HandleFunc("GET /cases/{id}", s.handleGet)
	mux.HandleFunc("GET /cases/{id}/scenario.svg", s.handleScenario)
	for _, format := range report.Formats {
		mux.HandleFunc("GET /cases/{id}/report."+format.Ext(), s.handleReport(format))
	}
	return mux
}

func (s Service) writeJSON(w http.ResponseWriter, value any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s Service) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "service.List")
	defer span.End()

	cases, err := s.cases.List(ctx)
	if err != nil {
		s.tel.ReportBroken(report_service_list, err)
		http.Error(w, "failed to list cases", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, cases)
}

// record loads the case named by the path, writing the error response
// itself when it fails.
func (s Service) record(w http.ResponseWriter, r *http.Request) (fkd.CaseRecord, bool) {
	id := r.PathValue("id")
	record, err := s.cases.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, fmt.Sprintf("case %s not found", id), http.StatusNotFound)
		return fkd.CaseRecord{}, false
	}
	if err != nil {
		s.tel.ReportBroken(report_service_get, err, id)
		http.Error(w, "failed to read case", http.StatusInternalServerError)
		return fkd.CaseRecord{}, false
	}
	return record, true
}

func (s Service) handleGet(w http.ResponseWriter, r *http.Request) {
	record, ok := s.record(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, record)
}

func parseBound(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number", name)
	}
	return value, nil
}

func (s Service) handleScenario(w http.ResponseWriter, r *http.Request) {
	var (
		bounds scenario.Bounds
		err    error
	)
	bounds.MaxWidth, err = parseBound(r, "max_width")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bounds.MaxHeight, err = parseBound(r, "max_height")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	record, ok := s.record(w, r)
	if !ok {
		return
	}
	layout := scenario.Layout(record.Scenario, bounds)
	if layout == nil {
		http.Error(w, fmt.Sprintf("case %s has no scenario", record.CaseId), http.StatusNotFound)
		return
	}
	w.Header().Set("content-type", "image/svg+xml")
	w.Write(svg.Render(layout.Draw()))
}

var contentTypes = map[report.Format]string{
	report.FormatHTML: "text/html; charset=utf-8",
	report.FormatPDF:  "application/pdf",
	report.FormatDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

func (s Service) handleReport(format report.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "service.Report")
		defer span.End()
		span.SetAttributes(attribute.String("format", string(format)))

		record, ok := s.record(w, r.WithContext(ctx))
		if !ok {
			return
		}

		var buf bytes.Buffer
		err := s.renderer.Render(ctx, format, &buf, record)
		if err != nil {
			s.tel.ReportBroken(report_service_render, err, record.CaseId, string(format))
			http.Error(w, "failed to render report", http.StatusInternalServerError)
			return
		}
		w.Header().Set("content-type", contentTypes[format])
		w.Write(buf.Bytes())
	}
}

// ListenAndServe serves handler over h2c on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, tel telemetry.API) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		tel.ReportDebug("listening...", "addr", addr)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		tel.ReportBroken(report_service_serve, err)
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
