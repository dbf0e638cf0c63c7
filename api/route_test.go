package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"haruki-cri-audio/batch"
	"haruki-cri-audio/config"
	"haruki-cri-audio/utils"
	"haruki-cri-audio/utils/exporter"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/require"
)

type stubCommand struct{}

func (stubCommand) Run(cmd utils.HarukiCRICommand, input string) ([]string, error) {
	if filepath.Base(input) == "broken.acb" {
		return nil, errors.New("bad magic")
	}
	return []string{input + ".wav"}, nil
}

func setup(t *testing.T, recordFile string) (*fiber.App, *JobStore) {
	t.Helper()
	prevCfg, prevCommand := config.Cfg, newCommand
	t.Cleanup(func() {
		config.Cfg = prevCfg
		newCommand = prevCommand
	})
	config.Cfg = config.Default()
	newCommand = func(exporter.Options) batch.Command { return stubCommand{} }

	store, err := NewJobStore(recordFile)
	require.NoError(t, err)
	app := fiber.New(fiber.Config{
		JSONEncoder: sonic.Marshal,
		JSONDecoder: sonic.Unmarshal,
	})
	RegisterRoutes(app, store)
	return app, store
}

func do(t *testing.T, app *fiber.App, method, target string, body any, headers map[string]string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func waitForJob(t *testing.T, app *fiber.App, id string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, data := do(t, app, http.MethodGet, "/jobs/"+id, nil, nil)
		require.Equal(t, http.StatusOK, status)
		var job Job
		require.NoError(t, sonic.Unmarshal(data, &job))
		if job.Status == JobStatusFinished || job.Status == JobStatusFailed {
			return job
		}
		require.True(t, time.Now().Before(deadline), "job %s did not finish", id)
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCreateJobRunsBatch(t *testing.T) {
	dir := t.TempDir()
	records := filepath.Join(dir, "records", "jobs.json")
	app, _ := setup(t, records)
	for _, name := range []string{"bgm.acb", "broken.acb"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	status, data := do(t, app, http.MethodPost, "/jobs", JobRequest{
		Command: "acb2wavs",
		Inputs:  []string{dir},
	}, nil)
	require.Equal(t, http.StatusAccepted, status)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, sonic.Unmarshal(data, &created))
	require.NotEmpty(t, created.ID)

	job := waitForJob(t, app, created.ID)
	require.Equal(t, JobStatusFailed, job.Status)
	require.Contains(t, job.Error, "1 of 2 inputs failed")
	require.Len(t, job.Results, 2)
	require.NotNil(t, job.FinishedAt)

	reloaded, err := NewJobStore(records)
	require.NoError(t, err)
	saved, ok := reloaded.Get(created.ID)
	require.True(t, ok)
	require.Equal(t, utils.CommandACB2WAVs, saved.Command)
	require.Len(t, saved.Results, 2)

	status, data = do(t, app, http.MethodGet, "/jobs", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var jobs []Job
	require.NoError(t, sonic.Unmarshal(data, &jobs))
	require.Len(t, jobs, 1)
}

func TestCreateJobRejectsBadRequests(t *testing.T) {
	app, store := setup(t, "")

	status, _ := do(t, app, http.MethodPost, "/jobs", JobRequest{Command: "play", Inputs: []string{"a.acb"}}, nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = do(t, app, http.MethodPost, "/jobs", JobRequest{Command: "acb2wavs"}, nil)
	require.Equal(t, http.StatusBadRequest, status)

	depth := 12
	status, _ = do(t, app, http.MethodPost, "/jobs", JobRequest{
		Command: "acb2wavs",
		Inputs:  []string{"a.acb"},
		Options: JobOptions{BitDepth: &depth},
	}, nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Empty(t, store.List())

	status, _ = do(t, app, http.MethodGet, "/jobs/unknown", nil, nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestAuthorization(t *testing.T) {
	app, _ := setup(t, "")
	config.Cfg.Backend.EnableAuthorization = true
	config.Cfg.Backend.AcceptUserAgentPrefix = "HarukiClient"
	config.Cfg.Backend.AcceptAuthorizationToken = "secret"

	status, _ := do(t, app, http.MethodGet, "/jobs", nil, map[string]string{"User-Agent": "curl/8"})
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = do(t, app, http.MethodGet, "/jobs", nil, map[string]string{
		"User-Agent":    "HarukiClient/1.0",
		"Authorization": "Bearer wrong",
	})
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = do(t, app, http.MethodGet, "/jobs", nil, map[string]string{
		"User-Agent":    "HarukiClient/1.0",
		"Authorization": "Bearer secret",
	})
	require.Equal(t, http.StatusOK, status)
}

func TestJobStoreMarksInterruptedJobs(t *testing.T) {
	records := filepath.Join(t.TempDir(), "jobs.json")
	data, err := sonic.Marshal([]Job{
		{ID: "a", Command: utils.CommandHCA2WAV, Status: JobStatusRunning},
		{ID: "b", Command: utils.CommandHCA2WAV, Status: JobStatusFinished},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(records, data, 0644))

	store, err := NewJobStore(records)
	require.NoError(t, err)
	a, _ := store.Get("a")
	require.Equal(t, JobStatusFailed, a.Status)
	require.Equal(t, "interrupted by restart", a.Error)
	b, _ := store.Get("b")
	require.Equal(t, JobStatusFinished, b.Status)
}
