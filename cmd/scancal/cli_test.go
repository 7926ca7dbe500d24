package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const streamBody = `{"chunk_index":1,"total_chunks":2,"new_events":[{"event":"Design review","time":{"iso":"2024-05-01T14:00:00","display":"May 1, 2pm"},"sender":"Ann","urgency":"high","gmailThread":"17a4c5f0b1c"}]}
not json
{"chunk_index":2,"total_chunks":2,"new_events":[{"event":"Field trip","time":"2024-05-03","urgency":"low"}]}
{"complete":true,"total_chunks":2}
`

// newParserService fakes the three endpoints of the parsing service.
func newParserService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /parse", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(streamBody))
	})
	mux.HandleFunc("POST /parse_free_text", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "Asia/Seoul", req["user_timezone"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"events":[{"title":"Dentist","time":"2024-05-03T09:30:00","description":"` + req["text"] + `"}]}`))
	})
	mux.HandleFunc("POST /contacts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"contacts":[{"email":"ann@x.io","name":"Ann"},{"email":"andy@x.io"},{"email":"bob@x.io"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// executeCLI runs the command tree against a config file in dir.
func executeCLI(t *testing.T, dir string, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "config.yaml"), "--no-color"}, args...))

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, dir, parserURL string) {
	t.Helper()
	cfg := "timezone: Asia/Seoul\n" +
		"identity: me@x.io\n" +
		"parser:\n  base_url: " + parserURL + "\n" +
		"log:\n  level: error\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0o600))
}

func TestScanTextPrintsEventsInDisplayOrder(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, newParserService(t).URL)

	stdout, _, err := executeCLI(t, dir, "scan", "--text", "see you at the review")
	require.NoError(t, err)

	review := strings.Index(stdout, "[high] Design review")
	trip := strings.Index(stdout, "[low] Field trip")
	require.NotEqual(t, -1, review, stdout)
	require.NotEqual(t, -1, trip, stdout)
	assert.Less(t, review, trip)

	assert.Contains(t, stdout, "May 1, 2pm")
	assert.Contains(t, stdout, "from: Ann")
	assert.Contains(t, stdout, "thread:   https://mail.google.com/mail/u/0/#all/17a4c5f0b1c")
	assert.Contains(t, stdout, "&dates=20240501T140000/20240501T150000")
	assert.Contains(t, stdout, "Complete  2 event(s)  3 frame(s)  1 undecodable")
}

func TestScanJSONOutput(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, newParserService(t).URL)

	stdout, _, err := executeCLI(t, dir, "scan", "--text", "anything", "--json")
	require.NoError(t, err)

	var out struct {
		SessionID    string           `json:"session_id"`
		Status       string           `json:"status"`
		DecodeErrors int              `json:"decode_errors"`
		Events       []map[string]any `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out), stdout)
	assert.NotEmpty(t, out.SessionID)
	assert.Equal(t, "complete", out.Status)
	assert.Equal(t, 1, out.DecodeErrors)
	require.Len(t, out.Events, 2)
	assert.Equal(t, "Design review", out.Events[0]["title"])
	assert.Equal(t, "https://mail.google.com/mail/u/0/#all/17a4c5f0b1c", out.Events[0]["thread_url"])
	assert.Contains(t, out.Events[1]["calendar_url"], "&dates=20240503")
}

func TestScanWithoutParserURLFails(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")

	_, _, err := executeCLI(t, dir, "scan", "--text", "hello")
	require.Error(t, err)
}

func TestScanWithoutSource(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, newParserService(t).URL)

	_, _, err := executeCLI(t, dir, "scan")
	require.ErrorIs(t, err, errNoSource)
}

func TestParseUsesSingleShotEndpoint(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, newParserService(t).URL)

	stdout, _, err := executeCLI(t, dir, "parse", "dentist", "on", "friday")
	require.NoError(t, err)
	assert.Contains(t, stdout, "[-] Dentist")
	assert.Contains(t, stdout, "dentist on friday")
}

func TestParseBlankInput(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, newParserService(t).URL)

	_, _, err := executeCLI(t, dir, "parse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No text found")
}

func TestMentionSuggestsAndCommits(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, newParserService(t).URL)

	stdout, _, err := executeCLI(t, dir, "mention", "--text", "sync with @an")
	require.NoError(t, err)
	assert.Contains(t, stdout, "0  ann@x.io (Ann)")
	assert.Contains(t, stdout, "1  andy@x.io")
	assert.NotContains(t, stdout, "bob@x.io")

	stdout, _, err = executeCLI(t, dir, "mention", "--text", "sync with @an", "--select", "1")
	require.NoError(t, err)
	assert.Equal(t, "sync with andy@x.io \n", stdout)
}

func TestMentionMoveAndCommit(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, newParserService(t).URL)

	stdout, _, err := executeCLI(t, dir, "mention", "--text", "sync with @an", "--move", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, " 0  ann@x.io (Ann)")
	assert.Contains(t, stdout, ">1  andy@x.io")

	stdout, _, err = executeCLI(t, dir, "mention", "--text", "sync with @an", "--move", "-1", "--commit")
	require.NoError(t, err)
	assert.Equal(t, "sync with andy@x.io \n", stdout)

	_, _, err = executeCLI(t, dir, "mention", "--text", "sync with @an", "--select", "0", "--commit")
	require.Error(t, err)
}

func TestMentionFallsBackToLiteral(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, newParserService(t).URL)

	stdout, _, err := executeCLI(t, dir, "mention", "--text", "cc @zoe.q", "--json")
	require.NoError(t, err)

	var out mentionOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.True(t, out.Active)
	require.Len(t, out.Candidates, 1)
	assert.True(t, out.Candidates[0].Literal)
	assert.Equal(t, "zoe.q", out.Candidates[0].Email)
}

func TestLinkBuildsCalendarURL(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")

	stdout, _, err := executeCLI(t, dir, "link", "--title", "Offsite", "--time", "2024-05-06/2024-05-08", "--sender", "Ann")
	require.NoError(t, err)
	assert.Equal(t,
		"https://calendar.google.com/calendar/r/eventedit?text=Offsite&details=&location=Ann&dates=20240506/20240508\n",
		stdout)

	stdout, _, err = executeCLI(t, dir, "link", "--title", "Offsite", "--source-ref", "abc", "--thread")
	require.NoError(t, err)
	assert.Equal(t, "https://mail.google.com/mail/u/0/#all/abc\n", stdout)

	_, _, err = executeCLI(t, dir, "link", "--title", "  ")
	require.Error(t, err)
}

func TestExportWritesAndMergesCalendar(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, newParserService(t).URL)
	out := filepath.Join(dir, "events.ics")

	stdout, _, err := executeCLI(t, dir, "export", "--text", "dentist", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote 1 event(s)")

	stdout, _, err = executeCLI(t, dir, "export", "--file", writePage(t, dir), "--out", out, "--merge")
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote 3 event(s)")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	body := string(data)
	assert.Equal(t, 3, strings.Count(body, "BEGIN:VEVENT"))
	assert.Contains(t, body, "SUMMARY:Dentist")
	assert.Contains(t, body, "SUMMARY:Design review")
	assert.Contains(t, body, "DTSTART;VALUE=DATE:20240503")

	// Exporting the same events again adds nothing.
	stdout, _, err = executeCLI(t, dir, "export", "--file", writePage(t, dir), "--out", out, "--merge")
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote 3 event(s)")
}

func writePage(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "page.json")
	page := `{"url":"https://mail.example.com","title":"Inbox","text":"Design review May 1 at 2pm"}`
	require.NoError(t, os.WriteFile(path, []byte(page), 0o600))
	return path
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "http://127.0.0.1:1")
	t.Setenv("SCANCAL_PARSER_BASE_URL", newParserService(t).URL)

	stdout, _, err := executeCLI(t, dir, "parse", "dentist")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Dentist")
}

func TestEnvFileIsLoaded(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "http://127.0.0.1:1")
	envFile := filepath.Join(dir, "scancal.env")
	require.NoError(t, os.WriteFile(envFile, []byte("SCANCAL_PARSER_BASE_URL="+newParserService(t).URL+"\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SCANCAL_PARSER_BASE_URL") })

	stdout, _, err := executeCLI(t, dir, "--env-file", envFile, "parse", "dentist")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Dentist")
}

func TestFlagOverridesTimezone(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, newParserService(t).URL)

	_, _, err := executeCLI(t, dir, "--timezone", "Mars/Olympus", "parse", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown timezone")
}
