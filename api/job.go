package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"haruki-cri-audio/batch"
	"haruki-cri-audio/utils"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
)

type Job struct {
	ID         string                 `json:"id"`
	Command    utils.HarukiCRICommand `json:"command"`
	Inputs     []string               `json:"inputs"`
	Status     JobStatus              `json:"status"`
	Results    []batch.Result         `json:"results,omitempty"`
	Error      string                 `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
}

// JobStore keeps jobs in memory and mirrors them to a JSON record file when one is configured.
type JobStore struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	recordFile string
}

// NewJobStore loads previous jobs from recordFile. Jobs that never finished are marked failed.
func NewJobStore(recordFile string) (*JobStore, error) {
	s := &JobStore{jobs: make(map[string]*Job), recordFile: recordFile}
	if recordFile == "" {
		return s, nil
	}
	data, err := os.ReadFile(recordFile)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job records: %w", err)
	}
	var jobs []*Job
	if err := sonic.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("failed to parse job records: %w", err)
	}
	for _, j := range jobs {
		if j.Status == JobStatusPending || j.Status == JobStatusRunning {
			j.Status = JobStatusFailed
			j.Error = "interrupted by restart"
		}
		s.jobs[j.ID] = j
	}
	return s, nil
}

func (s *JobStore) Create(cmd utils.HarukiCRICommand, inputs []string) *Job {
	j := &Job{
		ID:        uuid.NewString(),
		Command:   cmd,
		Inputs:    inputs,
		Status:    JobStatusPending,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()
	return j
}

// Get returns a snapshot of the job.
func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

func (s *JobStore) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked()
}

func (s *JobStore) listLocked() []Job {
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

func (s *JobStore) setRunning(id string) {
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok {
		j.Status = JobStatusRunning
	}
	s.mu.Unlock()
}

// finish records the outcome and rewrites the record file before the new state becomes visible.
func (s *JobStore) finish(id string, results []batch.Result, err error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.Results = results
	j.FinishedAt = &now
	j.Status = JobStatusFinished
	if err != nil {
		j.Status = JobStatusFailed
		j.Error = err.Error()
	}
	if err := s.persistLocked(); err != nil {
		logger.Errorf("failed to persist job records: %v", err)
	}
}

func (s *JobStore) persistLocked() error {
	if s.recordFile == "" {
		return nil
	}
	data, err := sonic.ConfigStd.MarshalIndent(s.listLocked(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.recordFile), 0755); err != nil {
		return err
	}
	tmp := s.recordFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.recordFile)
}
