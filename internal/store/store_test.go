package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"fkd-backend/internal/components/chrono"
	"fkd-backend/internal/scenario"
	"fkd-backend/internal/scrapers/fkd"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func testRecord(id, name string) fkd.CaseRecord {
	return fkd.CaseRecord{
		CaseId:   id,
		Url:      "https://www.shippai.org/fkd/cf/" + id + ".html",
		CaseName: name,
		Summary:  "概要",
		Scenario: scenario.Structure{
			Cause:  [][]string{{"設計不良", "強度不足"}},
			Action: [][]string{},
			Result: [][]string{{"破損"}},
		},
		Knowledge: []string{},
		Images: fkd.Images{
			Representative: "DZ.jpg",
			Multimedia:     []fkd.Multimedia{{Id: "MZ1", Caption: "図1"}},
		},
		Sources:    []string{},
		Casualties: fkd.Casualties{Deaths: 1},
		Authors:    []string{},
	}
}

func openTestStore(t *testing.T, at time.Time) *Store {
	t.Helper()
	s, err := Open(
		context.Background(),
		filepath.Join(t.TempDir(), "data", "cases.db"),
		"",
		chrono.FixedImpl{At: at},
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestStore(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := openTestStore(t, at)
	ctx := context.Background()

	{
		cases, err := s.List(ctx)
		require.NoError(t, err)
		require.Empty(t, cases)

		_, err = s.Get(ctx, "CZ0200703")
		require.ErrorIs(t, err, ErrNotFound)
	}

	first := testRecord("CZ0200703", "浜岡原発タービンの損傷")
	second := testRecord("CA0000001", "別の事例")
	require.NoError(t, s.Put(ctx, first))
	require.NoError(t, s.Put(ctx, second))

	{
		got, err := s.Get(ctx, "CZ0200703")
		require.NoError(t, err)
		if diff := cmp.Diff(first, got); diff != "" {
			t.Fatal(diff)
		}
	}
	{
		cases, err := s.List(ctx)
		require.NoError(t, err)
		require.Equal(t, []Summary{
			{Id: "CA0000001", Name: "別の事例", Url: second.Url, UpdatedAt: at},
			{Id: "CZ0200703", Name: "浜岡原発タービンの損傷", Url: first.Url, UpdatedAt: at},
		}, cases)
	}

	// put replaces
	first.CaseName = "改名"
	require.NoError(t, s.Put(ctx, first))
	{
		got, err := s.Get(ctx, "CZ0200703")
		require.NoError(t, err)
		require.Equal(t, "改名", got.CaseName)

		cases, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, cases, 2)
	}

	require.NoError(t, s.Delete(ctx, "CA0000001"))
	require.ErrorIs(t, s.Delete(ctx, "CA0000001"), ErrNotFound)
	{
		cases, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, cases, 1)
	}
}

func TestScenarioShapeSurvivesStorage(t *testing.T) {
	s := openTestStore(t, time.Unix(0, 0).UTC())
	ctx := context.Background()

	record := testRecord("CZ1", "空のシナリオ")
	record.Scenario = scenario.Structure{}
	require.NoError(t, s.Put(ctx, record))

	var serialized string
	err := s.db.QueryRowContext(ctx, "select record from cases where id = ?", "CZ1").Scan(&serialized)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(serialized), &raw))
	require.JSONEq(t, `{"cause": [], "action": [], "result": []}`, string(raw["scenario"]))
}

func TestPutRequiresId(t *testing.T) {
	s := openTestStore(t, time.Unix(0, 0).UTC())
	require.Error(t, s.Put(context.Background(), fkd.CaseRecord{CaseName: "no id"}))
}

func TestOpenDB(t *testing.T) {
	_, err := OpenDB("", "")
	require.Error(t, err)

	db, err := OpenDB(":memory:", "")
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	require.NoError(t, db.Close())

	db, err = OpenDB("file:"+filepath.Join(t.TempDir(), "x.db"), "")
	require.NoError(t, err)
	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)
	require.NoError(t, db.Close())
}
