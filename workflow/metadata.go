package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/agentswarm/checkpoint"
)

// Metadata is the persisted record of one workflow run.
type Metadata struct {
	WorkflowID  string          `json:"workflow_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Task        string          `json:"task"`
	Timestamp   time.Time       `json:"timestamp"`
	Agents      []AgentMetadata `json:"agents"`
}

// AgentMetadata is the per agent part of Metadata.
type AgentMetadata struct {
	AgentName  string    `json:"agent_name"`
	AgentID    string    `json:"agent_id"`
	State      string    `json:"state"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	DurationMS int64     `json:"duration_ms"`
}

func newMetadata(id, name, description, task string, ts time.Time, results []Result) *Metadata {
	md := &Metadata{
		WorkflowID:  id,
		Name:        name,
		Description: description,
		Task:        task,
		Timestamp:   ts,
		Agents:      make([]AgentMetadata, 0, len(results)),
	}

	for _, r := range results {
		am := AgentMetadata{
			AgentName:  r.AgentName,
			AgentID:    r.AgentID,
			State:      r.State.String(),
			Output:     r.Output,
			Start:      r.Start,
			End:        r.End,
			DurationMS: r.Duration().Milliseconds(),
		}

		if r.Err != nil {
			am.Error = r.Err.Error()
		}

		md.Agents = append(md.Agents, am)
	}

	return md
}

// metadataPath names the record of a task: <dir>/<workflow>_<taskhash>.json.
func metadataPath(dir, workflowName, task string) string {
	return filepath.Join(dir, checkpoint.Key(workflowName, task)+".json")
}

func writeMetadata(path string, md *Metadata) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	return nil
}

// ReadMetadata loads a record written by a workflow run.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", path, err)
	}

	return &md, nil
}
