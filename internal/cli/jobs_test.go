package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadJobs(t *testing.T) {
	in := `
# generated by the batch tool
{"id":"a","type":"generate","priority":2,"payload":{"prompt":"cat"}}

{"type":"caption","max_attempts":1}
`
	jobs, err := readJobs(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	require.Equal(t, "a", jobs[0].ID)
	require.Equal(t, "generate", jobs[0].Type)
	require.Equal(t, 2, jobs[0].Priority)
	require.JSONEq(t, `{"prompt":"cat"}`, string(jobs[0].Payload.(json.RawMessage)))

	require.Empty(t, jobs[1].ID)
	require.Equal(t, 1, jobs[1].MaxAttempts)
	require.Nil(t, jobs[1].Payload)
}

func TestReadJobs_Errors(t *testing.T) {
	_, err := readJobs(strings.NewReader("{\"type\":\"a\"}\n{not json}\n"))
	require.ErrorContains(t, err, "line 2")

	_, err = readJobs(strings.NewReader(`{"id":"x"}`))
	require.ErrorContains(t, err, "line 1: type is required")
}

func TestReadJobsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"ping"}`+"\n"), 0o600))

	jobs, err := readJobsFile(path)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	_, err = readJobsFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.ErrorContains(t, err, "failed to open jobs file")
}
