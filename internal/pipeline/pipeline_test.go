package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fkd-backend/internal/components/chrono"
	"fkd-backend/internal/components/telemetry"
	"fkd-backend/internal/report"
	"fkd-backend/internal/scenario"
	"fkd-backend/internal/scrapers/fkd"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	cases    map[string]fkd.CaseRecord
	errs     map[string]error
	listings map[string][]string
}

func (f fakeFetcher) Case(_ context.Context, caseUrl string) (fkd.CaseRecord, error) {
	if err, ok := f.errs[caseUrl]; ok {
		return fkd.CaseRecord{}, err
	}
	record, ok := f.cases[caseUrl]
	if !ok {
		return fkd.CaseRecord{}, fmt.Errorf("GET %s: 404 Not Found", caseUrl)
	}
	return record, nil
}

func (f fakeFetcher) Listing(_ context.Context, listUrl string, limit int) ([]string, error) {
	urls, ok := f.listings[listUrl]
	if !ok {
		return nil, errors.New("listing unavailable")
	}
	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}
	return urls, nil
}

type fakeRenderer struct {
	fail map[report.Format]error
	// panics lists case ids whose render panics
	panics map[string]bool
}

func (f fakeRenderer) Render(_ context.Context, format report.Format, w io.Writer, record fkd.CaseRecord) error {
	if f.panics[record.CaseId] {
		panic("image: corrupt huffman table")
	}
	if err := f.fail[format]; err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s:%s", format, record.CaseId)
	return err
}

type fakeStore struct {
	mutex   sync.Mutex
	records map[string]fkd.CaseRecord
}

func (s *fakeStore) Put(_ context.Context, record fkd.CaseRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.records == nil {
		s.records = map[string]fkd.CaseRecord{}
	}
	s.records[record.CaseId] = record
	return nil
}

const base = "https://www.shippai.org/fkd/"

func caseRecord(id, name string) fkd.CaseRecord {
	return fkd.CaseRecord{
		CaseId:   id,
		Url:      base + "cf/" + id + ".html",
		CaseName: name,
		Summary:  "概要",
		Scenario: scenario.Structure{
			Cause:  [][]string{{"設計不良"}},
			Action: [][]string{{"運転継続"}},
			Result: [][]string{{"破損"}},
		},
		Knowledge: []string{},
		Images:    fkd.Images{Multimedia: []fkd.Multimedia{}},
		Sources:   []string{},
		Authors:   []string{},
	}
}

var processedAt = time.Date(2026, 10, 16, 9, 30, 0, 0, time.FixedZone("JST", 9*60*60))

func newTestRunner(t *testing.T, fetcher Fetcher, renderer Renderer, opts Options) (*Runner, *telemetry.RecordingAPI) {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	tel := telemetry.NewRecordingAPI()
	return NewRunner(fetcher, renderer, opts, chrono.FixedImpl{At: processedAt}, tel), tel
}

func TestExpandTargets(t *testing.T) {
	fetcher := fakeFetcher{listings: map[string][]string{
		base + "lis/cat102.html": {
			base + "cf/CZ1.html",
			base + "cf/CZ2.html",
			base + "cf/CZ3.html",
		},
	}}
	runner, tel := newTestRunner(t, fetcher, fakeRenderer{}, Options{})

	urls := runner.ExpandTargets(context.Background(), []string{
		base + "cf/CZ2.html",
		base + "lis/cat102.html",
		base + "about.html",
		base + "lis/missing.html",
	}, 2)

	require.Equal(t, []string{base + "cf/CZ2.html", base + "cf/CZ1.html"}, urls)
	require.Len(t, tel.Reports("warning", report_runner_expand), 1)
	require.Len(t, tel.Reports("broken", report_runner_expand), 1)
}

func TestExpandTargetsNothing(t *testing.T) {
	runner, _ := newTestRunner(t, fakeFetcher{}, fakeRenderer{}, Options{})
	require.Empty(t, runner.ExpandTargets(context.Background(), []string{"https://example.com/"}, 0))
}

func TestRun(t *testing.T) {
	success := caseRecord("CZ0200703", "浜岡原発タービンの損傷")
	fetcher := fakeFetcher{
		cases: map[string]fkd.CaseRecord{base + "cf/CZ0200703.html": success},
		errs: map[string]error{
			base + "cf/CZ0000001.html": &fkd.MissingFieldsError{
				CaseId:        "CZ0000001",
				CaseName:      "不完全な事例",
				Url:           base + "cf/CZ0000001.html",
				MissingLabels: []string{"経過", "シナリオ"},
			},
		},
	}
	store := &fakeStore{}
	runner, tel := newTestRunner(t, fetcher, fakeRenderer{}, Options{
		Formats:     []OutputFormat{OutputJSON, OutputPDF, OutputSVG},
		Concurrency: 2,
		Store:       store,
	})

	urls := []string{
		base + "cf/CZ0200703.html",
		base + "cf/CZ0000001.html",
		base + "cf/CZ9999999.html",
	}
	results := runner.Run(context.Background(), urls)

	expected := Results{
		ProcessedAt: "2026-10-16T09:30:00+09:00",
		Summary:     Summary{Total: 3, Success: 1, Excluded: 1, Error: 1},
		Cases: []CaseResult{
			{
				CaseId:   "CZ0200703",
				CaseName: "浜岡原発タービンの損傷",
				Url:      urls[0],
				Status:   StatusSuccess,
				Outputs: []string{
					"CZ0200703_浜岡原発タービンの損傷.json",
					"CZ0200703_浜岡原発タービンの損傷.pdf",
					"CZ0200703_浜岡原発タービンの損傷.svg",
				},
			},
			{
				CaseId:        "CZ0000001",
				CaseName:      "不完全な事例",
				Url:           urls[1],
				Status:        StatusExcluded,
				MissingFields: []string{"経過", "シナリオ"},
			},
			{
				Url:     urls[2],
				Status:  StatusError,
				Message: "GET " + urls[2] + ": 404 Not Found",
			},
		},
	}
	if diff := cmp.Diff(expected, results); diff != "" {
		t.Fatal(diff)
	}

	dir := runner.opts.OutputDir
	serialized, err := os.ReadFile(filepath.Join(dir, "CZ0200703_浜岡原発タービンの損傷.json"))
	require.NoError(t, err)
	var decoded fkd.CaseRecord
	require.NoError(t, json.Unmarshal(serialized, &decoded))
	if diff := cmp.Diff(success, decoded); diff != "" {
		t.Fatal(diff)
	}

	pdf, err := os.ReadFile(filepath.Join(dir, "CZ0200703_浜岡原発タービンの損傷.pdf"))
	require.NoError(t, err)
	require.Equal(t, "pdf:CZ0200703", string(pdf))

	svg, err := os.ReadFile(filepath.Join(dir, "CZ0200703_浜岡原発タービンの損傷.svg"))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(svg, []byte("<svg")))

	require.Len(t, store.records, 1)
	require.Contains(t, store.records, "CZ0200703")

	require.Len(t, tel.Reports("warning", report_runner_process), 1)
	require.Len(t, tel.Reports("broken", report_runner_process), 1)
}

func TestRunOutputFailure(t *testing.T) {
	record := caseRecord("CZ1", "a/b")
	fetcher := fakeFetcher{cases: map[string]fkd.CaseRecord{base + "cf/CZ1.html": record}}
	renderer := fakeRenderer{fail: map[report.Format]error{report.FormatPDF: errors.New("no glyphs")}}
	runner, _ := newTestRunner(t, fetcher, renderer, Options{
		Formats: []OutputFormat{OutputPDF, OutputJSON},
	})

	results := runner.Run(context.Background(), []string{base + "cf/CZ1.html"})
	require.Equal(t, Summary{Total: 1, Error: 1}, results.Summary)

	c := results.Cases[0]
	require.Equal(t, StatusError, c.Status)
	require.Equal(t, []string{"CZ1_a_b.json"}, c.Outputs)
	require.Equal(t, "pdf: no glyphs", c.Message)

	entries, err := os.ReadDir(runner.opts.OutputDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "CZ1_a_b.json", entries[0].Name())
}

func TestRunRecoversPanics(t *testing.T) {
	fetcher := fakeFetcher{cases: map[string]fkd.CaseRecord{
		base + "cf/CZ1.html": caseRecord("CZ1", "壊れた画像"),
		base + "cf/CZ2.html": caseRecord("CZ2", "正常"),
	}}
	renderer := fakeRenderer{panics: map[string]bool{"CZ1": true}}
	runner, tel := newTestRunner(t, fetcher, renderer, Options{
		Formats:     []OutputFormat{OutputPDF},
		Concurrency: 2,
	})

	results := runner.Run(context.Background(), []string{base + "cf/CZ1.html", base + "cf/CZ2.html"})
	require.Equal(t, Summary{Total: 2, Success: 1, Error: 1}, results.Summary)

	require.Equal(t, CaseResult{
		Url:     base + "cf/CZ1.html",
		Status:  StatusError,
		Message: "panic: image: corrupt huffman table",
	}, results.Cases[0])
	require.Equal(t, StatusSuccess, results.Cases[1].Status)
	require.Equal(t, []string{"CZ2_正常.pdf"}, results.Cases[1].Outputs)

	require.Len(t, tel.Reports("broken", report_runner_process), 1)
}

func TestRenderFile(t *testing.T) {
	runner, _ := newTestRunner(t, fakeFetcher{}, fakeRenderer{}, Options{
		Formats: []OutputFormat{OutputHTML, OutputDOCX},
	})
	outputs, err := runner.RenderFile(context.Background(), caseRecord("CZ7", "再描画"))
	require.NoError(t, err)
	require.Equal(t, []string{"CZ7_再描画.html", "CZ7_再描画.docx"}, outputs)

	_, err = runner.RenderFile(context.Background(), fkd.CaseRecord{CaseId: "CZ8"})
	require.NoError(t, err)

	runner.opts.Formats = []OutputFormat{OutputSVG}
	_, err = runner.RenderFile(context.Background(), fkd.CaseRecord{CaseId: "CZ9"})
	require.ErrorContains(t, err, "no scenario")
}

func TestOutputName(t *testing.T) {
	cases := []struct {
		id       string
		name     string
		expected string
	}{
		{id: "CZ0200703", name: "浜岡原発タービンの損傷", expected: "CZ0200703_浜岡原発タービンの損傷"},
		{id: "CZ1", name: "A/B\\C", expected: "CZ1_A_B_C"},
		{id: "CZ2", name: " 前後の空白 ", expected: "CZ2_前後の空白"},
		{id: "CZ3", name: "", expected: "CZ3"},
		{id: "CZ4", name: "改行\nあり", expected: "CZ4_改行 あり"},
	}
	for _, c := range cases {
		t.Run(c.id, func(t *testing.T) {
			require.Equal(t, c.expected, OutputName(fkd.CaseRecord{CaseId: c.id, CaseName: c.name}))
		})
	}
}

func TestNextResultsPath(t *testing.T) {
	dir := t.TempDir()

	path, err := NextResultsPath(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "results_001.json"), path)

	for _, name := range []string{"results_002.json", "results_010.json", "results_x.json", "results_999.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0666))
	}
	path, err = NextResultsPath(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "results_011.json"), path)

	path, err = NextResultsPath(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "missing", "results_001.json"), path)
}

func TestWriteResults(t *testing.T) {
	runner, _ := newTestRunner(t, fakeFetcher{}, fakeRenderer{}, Options{})
	results := Results{
		ProcessedAt: "2026-10-16T09:30:00+09:00",
		Summary:     Summary{Total: 1, Error: 1},
		Cases:       []CaseResult{{Url: base + "cf/CZ1.html", Status: StatusError, Message: "boom"}},
	}

	first, err := runner.WriteResults(results)
	require.NoError(t, err)
	require.Equal(t, "results_001.json", filepath.Base(first))
	second, err := runner.WriteResults(results)
	require.NoError(t, err)
	require.Equal(t, "results_002.json", filepath.Base(second))

	serialized, err := os.ReadFile(first)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"processed_at": "2026-10-16T09:30:00+09:00",
		"summary": {"total": 1, "success": 0, "excluded": 0, "error": 1},
		"cases": [{"url": "https://www.shippai.org/fkd/cf/CZ1.html", "status": "error", "message": "boom"}]
	}`, string(serialized))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, Results{
		Summary: Summary{Total: 2, Success: 1, Excluded: 1},
		Cases: []CaseResult{
			{CaseId: "CZ1", CaseName: "一", Status: StatusSuccess, Outputs: []string{"CZ1_一.json"}},
			{CaseId: "CZ2", CaseName: "二", Status: StatusExcluded, MissingFields: []string{"経過"}},
		},
	})
	out := buf.String()
	require.Contains(t, out, "CZ1_一.json")
	require.Contains(t, out, "missing: 経過")
	require.Contains(t, out, "1/2 success")
}

func TestParseOutputFormats(t *testing.T) {
	formats, err := ParseOutputFormats([]string{"json,pdf", "SVG", "pdf"})
	require.NoError(t, err)
	require.Equal(t, []OutputFormat{OutputJSON, OutputPDF, OutputSVG}, formats)

	_, err = ParseOutputFormats([]string{"xml"})
	require.Error(t, err)
}
