package fkd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"fkd-backend/internal/components/telemetry"
	"fkd-backend/internal/docmodel"
	"fkd-backend/internal/scenario"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const incompleteCase = `<html><body><table>
<tr><td bgcolor="#DFE9F2">事例名称</td><td>不完全な事例</td></tr>
<tr><td bgcolor="#DFE9F2">事例概要</td><td>概要のみ</td></tr>
</table></body></html>`

type fixtureServer struct {
	*httptest.Server

	mutex sync.Mutex
	hits  map[string]int
}

func (s *fixtureServer) Hits(path string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.hits[path]
}

func newFixtureServer(t *testing.T) *fixtureServer {
	t.Helper()

	read := func(name string) []byte {
		body, err := os.ReadFile("testdata/" + name)
		require.NoError(t, err)
		return body
	}
	pages := map[string][]byte{
		"/fkd/cf/CZ0200703.html": read("case.html"),
		"/fkd/sf/SZ0200703.html": read("scenario.html"),
		"/fkd/lis/cat102.html":   read("listing.html"),
		"/fkd/cf/CZ0000001.html": []byte(incompleteCase),
		"/fkd/df/DZ0200703.jpg":  []byte("jpeg bytes"),
	}

	s := &fixtureServer{hits: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mutex.Lock()
		s.hits[r.URL.Path]++
		s.mutex.Unlock()

		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, ".html") {
			w.Header().Set("content-type", "text/html; charset=utf-8")
		}
		w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestClient(t *testing.T, server *fixtureServer, tel telemetry.API) *Client {
	t.Helper()
	client, err := NewClient(Options{
		BaseUrl:           server.URL + "/fkd",
		RequestsPerSecond: 1000,
		CacheSize:         16,
	}, tel)
	require.NoError(t, err)
	return client
}

func loadDocument(t *testing.T, name string) *goquery.Document {
	t.Helper()
	f, err := os.Open("testdata/" + name)
	require.NoError(t, err)
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	require.NoError(t, err)
	return doc
}

var expectedScenario = scenario.Structure{
	Cause:  [][]string{{"設計不良", "共振の見落とし", "強度不足"}},
	Action: [][]string{{"運転継続", "振動上昇", "警報無視"}},
	Result: [][]string{{"羽根破損", "自動停止"}},
}

func expectedRecord(caseUrl string) CaseRecord {
	return CaseRecord{
		CaseId:         "CZ0200703",
		Url:            caseUrl,
		CaseName:       "浜岡原発タービンの損傷",
		Date:           "2006-06-15",
		Location:       "静岡県御前崎市",
		Facility:       "浜岡原子力発電所5号機",
		Summary:        "定格出力運転中にタービンが損傷した。",
		Phenomenon:     "タービン振動が上昇し、自動停止した。",
		Process:        "2006年6月15日、振動が上昇した。\n\n原子炉を手動停止した。\n\n調査の結果、羽根の破損が判明した。",
		Cause:          "羽根の設計が共振を考慮していなかった。",
		Response:       "損傷した羽根を交換した。",
		Countermeasure: "羽根を改良設計品に取り替えた。",
		Knowledge:      []string{"設計段階で共振を確認すること。", "試験を十分に行うこと。"},
		Background:     "出力増強の計画があった。",
		Scenario: scenario.Structure{
			Cause:  [][]string{},
			Action: [][]string{},
			Result: [][]string{},
		},
		Images: Images{
			Representative: "DZ0200703.jpg",
			Multimedia: []Multimedia{
				{Id: "MZ0200703_1", Caption: "図1 損傷箇所"},
				{Id: "MZ0200703_2", Caption: "図2 羽根"},
			},
		},
		Sources:         []string{"中部電力 プレスリリース", "https://www.chuden.co.jp/news/ 2006年"},
		Casualties:      Casualties{Deaths: 0, Injuries: 3},
		FinancialDamage: "約100億円",
		SocialImpact:    "電力供給計画に影響した。",
		Notes:           "",
		Field:           "機械",
		Authors:         []string{"小林 英男", "(東京大学)"},
	}
}

func TestParseCase(t *testing.T) {
	caseUrl := "https://www.shippai.org/fkd/cf/CZ0200703.html"
	record, scenarioUrl, err := ParseCase(loadDocument(t, "case.html"), caseUrl)
	require.NoError(t, err)
	require.Equal(t, "https://www.shippai.org/fkd/sf/SZ0200703.html", scenarioUrl)

	if diff := cmp.Diff(expectedRecord(caseUrl), record); diff != "" {
		t.Fatal(diff)
	}
}

func TestParseCaseRejectsForeignUrl(t *testing.T) {
	_, _, err := ParseCase(loadDocument(t, "case.html"), "https://www.shippai.org/fkd/about.html")
	require.Error(t, err)
}

func TestParseCaseFuzzyLabels(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<table>
<tr><td bgcolor="#DFE9F2">事例名称：</td><td>ラベル揺れ</td></tr>
<tr><td bgcolor="#DFE9F2">データ作成者名</td><td>山田</td></tr>
<tr><td bgcolor="#DFE9F2">事例発生場所</td><td>工場</td></tr>
</table><a href="/fkd/sf/SZ1.html">scenario</a>`))
	require.NoError(t, err)

	record, scenarioUrl, err := ParseCase(doc, "https://www.shippai.org/fkd/cf/CZ1.html")
	require.NoError(t, err)
	require.Equal(t, "ラベル揺れ", record.CaseName)
	require.Equal(t, []string{"山田"}, record.Authors)
	require.Equal(t, "工場", record.Facility)
	// a known label is never borrowed for a similar one
	require.Equal(t, "", record.Location)
	require.Equal(t, "https://www.shippai.org/fkd/sf/SZ1.html", scenarioUrl)
}

func TestScenarioFragment(t *testing.T) {
	fragment := ScenarioFragment(loadDocument(t, "scenario.html"))
	require.Equal(t, "td", fragment.Tag)
	require.Equal(t, "60%", fragment.AttrOr("width", ""))

	s, anomalies := scenario.DecodeWithAnomalies(fragment)
	require.Empty(t, anomalies)
	if diff := cmp.Diff(expectedScenario, s); diff != "" {
		t.Fatal(diff)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<table><tr><td><b>1.</b></td><td>-</td><td>only</td></tr></table>`,
	))
	require.NoError(t, err)
	whole := ScenarioFragment(doc)
	require.Equal(t, docmodel.DocumentTag, whole.Tag)
	require.Equal(t, [][]string{{"only"}}, scenario.Decode(whole).Cause)
}

func TestHelpers(t *testing.T) {
	id, err := CaseID("https://www.shippai.org/fkd/cf/CZ0200703.html")
	require.NoError(t, err)
	require.Equal(t, "CZ0200703", id)
	_, err = CaseID("https://www.shippai.org/fkd/lis/cat102.html")
	require.Error(t, err)

	require.Equal(t, "1999-09-30", ParseDate("1999年9月30日午前10時"))
	require.Equal(t, "不明", ParseDate("不明"))

	require.Equal(t, 12, ParseInt("死者12名、負傷者3名"))
	require.Equal(t, 0, ParseInt("なし"))
}

func TestParseKnowledge(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		expected []string
	}{
		{
			name:     "bullets",
			raw:      "\n・一つ目\n続き\n\n・二つ目 \n",
			expected: []string{"一つ目続き", "二つ目"},
		},
		{
			name:     "full width numbers",
			raw:      "１．最初の教訓\n補足\n２．次の教訓",
			expected: []string{"最初の教訓補足", "次の教訓"},
		},
		{
			name:     "ascii numbers",
			raw:      "前文\n1. first\n2.second",
			expected: []string{"first", "second"},
		},
		{
			name:     "free text",
			raw:      "  ひとつの教訓  ",
			expected: []string{"ひとつの教訓"},
		},
		{
			name:     "empty",
			raw:      " \n ",
			expected: []string{},
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			if diff := cmp.Diff(test.expected, ParseKnowledge(test.raw)); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func TestClientCase(t *testing.T) {
	server := newFixtureServer(t)
	tel := telemetry.NewRecordingAPI()
	client := newTestClient(t, server, tel)
	ctx := context.Background()

	caseUrl := server.URL + "/fkd/cf/CZ0200703.html"
	record, err := client.Case(ctx, caseUrl)
	require.NoError(t, err)

	expected := expectedRecord(caseUrl)
	expected.Scenario = expectedScenario
	if diff := cmp.Diff(expected, record); diff != "" {
		t.Fatal(diff)
	}

	_, err = client.Case(ctx, caseUrl)
	require.NoError(t, err)
	require.Equal(t, 1, server.Hits("/fkd/cf/CZ0200703.html"))
	require.Equal(t, 1, server.Hits("/fkd/sf/SZ0200703.html"))
	require.Empty(t, tel.Reports("broken", ""))
	require.Empty(t, tel.Reports("warning", ""))

	image, err := client.Representative(ctx, record.Images.Representative)
	require.NoError(t, err)
	require.Equal(t, "jpeg bytes", string(image))
	require.Equal(t, server.URL+"/fkd/mf/MZ0200703_1.jpg", client.MultimediaUrl("MZ0200703_1"))
}

func TestClientCaseIncomplete(t *testing.T) {
	server := newFixtureServer(t)
	client := newTestClient(t, server, telemetry.NewRecordingAPI())

	caseUrl := server.URL + "/fkd/cf/CZ0000001.html"
	record, err := client.Case(context.Background(), caseUrl)

	var missing *MissingFieldsError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "CZ0000001", missing.CaseId)
	require.Equal(t, "不完全な事例", missing.CaseName)
	require.Equal(t, caseUrl, missing.Url)
	require.Equal(t, []string{LabelProcess, LabelCause, LabelCountermeasure, LabelScenario}, missing.MissingLabels)
	require.Equal(t, "概要のみ", record.Summary)
}

func TestClientCaseNotFound(t *testing.T) {
	server := newFixtureServer(t)
	client := newTestClient(t, server, telemetry.NewRecordingAPI())

	_, err := client.Case(context.Background(), server.URL+"/fkd/cf/CZ404.html")
	require.Error(t, err)
	var missing *MissingFieldsError
	require.False(t, errors.As(err, &missing))
}

func TestClientListing(t *testing.T) {
	server := newFixtureServer(t)
	tel := telemetry.NewRecordingAPI()
	client := newTestClient(t, server, tel)
	ctx := context.Background()

	listUrl := server.URL + "/fkd/lis/cat102.html"
	urls, err := client.Listing(ctx, listUrl, 0)
	require.NoError(t, err)
	require.Equal(t, []string{
		server.URL + "/fkd/cf/CZ0200703.html",
		server.URL + "/fkd/cf/CZ0200704.html",
		server.URL + "/fkd/cf/CZ0200705.html",
	}, urls)

	urls, err = client.Listing(ctx, listUrl, 2)
	require.NoError(t, err)
	require.Len(t, urls, 2)

	_, err = client.Listing(ctx, server.URL+"/fkd/lis/missing.html", 0)
	require.Error(t, err)
}
