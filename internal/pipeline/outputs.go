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
	"regexp"
	"strconv"
	"strings"

	"fkd-backend/internal/render/svg"
	"fkd-backend/internal/report"
	"fkd-backend/internal/scenario"
	"fkd-backend/internal/scrapers/fkd"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type OutputFormat string

const (
	OutputJSON OutputFormat = "json"
	OutputSVG  OutputFormat = "svg"
	OutputPDF  OutputFormat = OutputFormat(report.FormatPDF)
	OutputDOCX OutputFormat = OutputFormat(report.FormatDOCX)
	OutputHTML OutputFormat = OutputFormat(report.FormatHTML)
)

var DefaultFormats = []OutputFormat{OutputJSON, OutputPDF}

// ParseOutputFormats parses format names, accepting comma separated
// lists. Duplicates are dropped.
func ParseOutputFormats(names []string) ([]OutputFormat, error) {
	var out []OutputFormat
	seen := map[OutputFormat]bool{}
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			f := OutputFormat(strings.ToLower(strings.TrimSpace(part)))
			if f == "" {
				continue
			}
			switch f {
			case OutputJSON, OutputSVG, OutputPDF, OutputDOCX, OutputHTML:
			default:
				return nil, fmt.Errorf("unknown output format %q", part)
			}
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out, nil
}

var unsafeFileChars = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	"\x00", "",
	"\n", " ",
	"\r", "",
	"\t", " ",
)

// OutputName is the file name of a record's outputs without extension:
// "<case_id>_<case_name>" with path separators replaced.
func OutputName(record fkd.CaseRecord) string {
	name := strings.TrimSpace(unsafeFileChars.Replace(record.CaseName))
	id := unsafeFileChars.Replace(record.CaseId)
	if name == "" {
		return id
	}
	return id + "_" + name
}

// MarshalRecord is the JSON form of a record written to disk.
func MarshalRecord(record fkd.CaseRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeOutputs writes every configured format. It returns the file names
// that were written and the joined errors of the ones that were not.
func (r *Runner) writeOutputs(ctx context.Context, record fkd.CaseRecord) ([]string, error) {
	err := os.MkdirAll(r.opts.OutputDir, 0777)
	if err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	base := OutputName(record)
	var (
		outputs []string
		errs    []error
	)
	for _, format := range r.opts.Formats {
		name := base + "." + string(format)
		err := writeFile(filepath.Join(r.opts.OutputDir, name), func(w io.Writer) error {
			return r.writeFormat(ctx, format, w, record)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", format, err))
			continue
		}
		outputs = append(outputs, name)
	}
	return outputs, errors.Join(errs...)
}

func (r *Runner) writeFormat(ctx context.Context, format OutputFormat, w io.Writer, record fkd.CaseRecord) error {
	switch format {
	case OutputJSON:
		serialized, err := MarshalRecord(record)
		if err != nil {
			return err
		}
		_, err = w.Write(serialized)
		return err
	case OutputSVG:
		layout := scenario.Layout(record.Scenario, scenario.Bounds{})
		if layout == nil {
			return errors.New("record has no scenario")
		}
		return svg.Write(w, layout.Draw())
	default:
		return r.renderer.Render(ctx, report.Format(format), w, record)
	}
}

// writeFile writes to a temporary file that is renamed to path once write
// succeeds.
func writeFile(path string, write func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var resultsFileName = regexp.MustCompile(`^results_(\d+)\.json$`)

// NextResultsPath returns dir/results_NNN.json numbered one past the
// highest existing results file.
func NextResultsPath(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	maxNum := 0
	for _, e := range entries {
		m := resultsFileName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		maxNum = max(maxNum, n)
	}
	return filepath.Join(dir, fmt.Sprintf("results_%03d.json", maxNum+1)), nil
}

// WriteResults writes the results log into dir and returns its path.
func (r *Runner) WriteResults(results Results) (string, error) {
	dir := r.opts.OutputDir
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		r.tel.ReportBroken(report_runner_results, err)
		return "", fmt.Errorf("write results: %w", err)
	}
	path, err := NextResultsPath(dir)
	if err != nil {
		r.tel.ReportBroken(report_runner_results, err)
		return "", fmt.Errorf("write results: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		r.tel.ReportBroken(report_runner_results, err, path)
		return "", fmt.Errorf("write results: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		r.tel.ReportBroken(report_runner_results, err, path)
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}

// PrintSummary writes a table of the batch results.
func PrintSummary(w io.Writer, results Results) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"#", "Case", "Name", "Status", "Detail"})

	for i, c := range results.Cases {
		var detail string
		switch c.Status {
		case StatusSuccess:
			detail = strings.Join(c.Outputs, ", ")
		case StatusExcluded:
			detail = "missing: " + strings.Join(c.MissingFields, ", ")
		case StatusError:
			detail = c.Message
			if c.CaseId == "" {
				detail = c.Url + ": " + c.Message
			}
		}
		t.AppendRow(table.Row{i + 1, c.CaseId, c.CaseName, c.Status, text.WrapSoft(detail, 60)})
	}

	t.AppendFooter(table.Row{
		"", "", "",
		fmt.Sprintf("%d/%d success", results.Summary.Success, results.Summary.Total),
		fmt.Sprintf("%d excluded, %d error", results.Summary.Excluded, results.Summary.Error),
	})
	t.Render()
}
