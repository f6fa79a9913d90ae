package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jeanpaul/fitcache/internal/gateway"
)

// Phase is a state of the migration state machine.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseVersionChecked  Phase = "version_checked"
	PhaseNoop            Phase = "noop"
	PhaseMigrationNeeded Phase = "migration_needed"
	PhaseAuthRecovered   Phase = "auth_recovered"
	PhaseBackedUp        Phase = "backed_up"
	PhaseMigrated        Phase = "migrated"
	PhaseValidated       Phase = "validated"
	PhaseCommitted       Phase = "committed"
	PhaseRolledBack      Phase = "rolled_back"
)

// Direction classifies the version change that triggered a migration.
type Direction string

const (
	DirectionInitial   Direction = "initial"
	DirectionUpgrade   Direction = "upgrade"
	DirectionDowngrade Direction = "downgrade"
	DirectionSame      Direction = "same"
	DirectionUnknown   Direction = "unknown"
)

// MigrationState is the report of one orchestrator run.
type MigrationState struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	AppVersion      string    `json:"app_version"`
	PreviousVersion string    `json:"previous_version"`
	Direction       Direction `json:"direction,omitempty"`
	AccountID       string    `json:"account_id,omitempty"`

	Phase     Phase   `json:"phase"`
	History   []Phase `json:"history"`
	Completed bool    `json:"completed"`

	// Backup
	BackupEntries int  `json:"backup_entries"`
	BackupTaken   bool `json:"backup_taken"`

	// Migrate
	Copied  []string `json:"copied,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
	Failed  []string `json:"failed,omitempty"`

	// Validate
	Sweep gateway.SweepResult `json:"sweep"`

	// Rollback
	Restored int `json:"restored"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// NewMigrationState starts a report for a run of appVersion.
func NewMigrationState(appVersion string) *MigrationState {
	return &MigrationState{
		RunID:      uuid.New().String(),
		StartedAt:  time.Now().UTC(),
		AppVersion: appVersion,
		Phase:      PhaseIdle,
		History:    []Phase{PhaseIdle},
		Errors:     []string{},
		Warnings:   []string{},
	}
}

// SetPhase moves the run to phase and records the transition.
func (s *MigrationState) SetPhase(phase Phase) {
	s.Phase = phase
	s.History = append(s.History, phase)
}

// Reached reports whether the run passed through phase.
func (s *MigrationState) Reached(phase Phase) bool {
	for _, p := range s.History {
		if p == phase {
			return true
		}
	}
	return false
}

// AddError records err against the step that produced it.
func (s *MigrationState) AddError(step string, err error) {
	if err != nil {
		s.Errors = append(s.Errors, fmt.Sprintf("[%s] %s", step, err.Error()))
	}
}

// AddWarning records a non-fatal condition against step.
func (s *MigrationState) AddWarning(step, warning string) {
	s.Warnings = append(s.Warnings, fmt.Sprintf("[%s] %s", step, warning))
}

func (s *MigrationState) finish() {
	s.FinishedAt = time.Now().UTC()
}

// Save writes the report to dir as <run id>.json and returns the path.
func (s *MigrationState) Save(dir string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}

	filename := filepath.Join(dir, filepath.Base(s.RunID)+".json")
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write state file: %w", err)
	}
	return filename, nil
}

// LoadState reads a report written by Save.
func LoadState(filename string) (*MigrationState, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state MigrationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}
