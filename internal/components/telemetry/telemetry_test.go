package telemetry

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := NewRecordingAPI()
	tel := NewScopedAPI("pipeline", NewScopedAPI("runner", rec))

	err := errors.New("listing unavailable")
	tel.ReportBroken("runner.expand", err, "https://example.com/lis/1.html")
	tel.ReportWarning("runner.process", "CZ0200703")
	tel.ReportDebug("expanded listing", 3)
	tel.ReportCount("runner.success", 2)

	// the innermost scope prefixes last
	require.Len(t, rec.Reports("broken", "runner: pipeline: runner.expand"), 1)
	require.Len(t, rec.Reports("warning", "runner.process"), 1)
	require.Len(t, rec.Reports("debug", "expanded listing"), 1)
	require.Empty(t, rec.Reports("broken", "runner.process"))

	counts := rec.Reports("count", "")
	expected := []Report{{Kind: "count", Id: "runner: pipeline: runner.success", Params: []any{int64(2)}}}
	if diff := cmp.Diff(expected, counts); diff != "" {
		t.Fatal(diff)
	}
}

func TestSlogAttrs(t *testing.T) {
	attrs := SlogAPI{}.attrs([]any{"id", "client.fetch"}, []any{errors.New("timeout"), "https://example.com", 3})
	require.Equal(t, []any{
		"id", "client.fetch",
		"err", "timeout",
		"params.1", "https://example.com",
		"params.2", 3,
	}, attrs)
}
