package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	adaptq "github.com/UniQw/adaptq-go"
	"github.com/bytedance/sonic"
)

// maxJobLine bounds a single line of a job file.
const maxJobLine = 4 << 20

// jobLine is one line of a JSON-lines job file.
type jobLine struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
	Payload     json.RawMessage `json:"payload"`
}

// readJobs parses JSON-lines jobs. Blank lines and lines starting with '#'
// are skipped.
func readJobs(r io.Reader) ([]adaptq.Job, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxJobLine)

	var jobs []adaptq.Job
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		var jl jobLine
		if err := sonic.Unmarshal(line, &jl); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if jl.Type == "" {
			return nil, fmt.Errorf("line %d: type is required", n)
		}
		job := adaptq.Job{
			ID:          jl.ID,
			Type:        jl.Type,
			Priority:    jl.Priority,
			MaxAttempts: jl.MaxAttempts,
		}
		if len(jl.Payload) > 0 {
			job.Payload = append(json.RawMessage(nil), jl.Payload...)
		}
		jobs = append(jobs, job)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", n+1, err)
	}
	return jobs, nil
}

// readJobsFile reads jobs from path, or from stdin when path is "-".
func readJobsFile(path string) ([]adaptq.Job, error) {
	if path == "-" {
		return readJobs(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open jobs file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return readJobs(f)
}
