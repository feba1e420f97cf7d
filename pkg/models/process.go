package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// ProcessStatus represents the lifecycle state of a process definition.
type ProcessStatus string

const (
	ProcessStatusDraft    ProcessStatus = "draft"    // Editable, not triggerable
	ProcessStatusActive   ProcessStatus = "active"   // Triggerable
	ProcessStatusPaused   ProcessStatus = "paused"   // No new instances, in-flight continue
	ProcessStatusArchived ProcessStatus = "archived" // Terminal for new work
)

var processTransitions = map[ProcessStatus][]ProcessStatus{
	ProcessStatusDraft:  {ProcessStatusActive, ProcessStatusArchived},
	ProcessStatusActive: {ProcessStatusPaused, ProcessStatusArchived},
	ProcessStatusPaused: {ProcessStatusActive, ProcessStatusArchived},
}

// CanTransitionProcess reports whether a definition may move from one status to another.
func CanTransitionProcess(from, to ProcessStatus) bool {
	for _, allowed := range processTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

const InitialVersion = "1.0.0"

var versionPattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)$`)

// ProcessDefinition is the static, versioned shape of a process.
type ProcessDefinition struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"        validate:"required,min=3"`
	Description string        `json:"description"`
	Steps       []Step        `json:"steps"       validate:"dive"`
	Status      ProcessStatus `json:"status"`
	IsTemplate  bool          `json:"is_template"`
	Version     string        `json:"version"`
	Audit
}

// Validate checks the definition's graph: unique step ids, valid step
// configs and that every reference resolves to a step or to EndStep.
func (p *ProcessDefinition) Validate() error {
	if p.Name == "" {
		return newValidationError(ErrInvalidDefinition, "name", "name is required")
	}

	if p.Version != "" && !versionPattern.MatchString(p.Version) {
		return newValidationError(ErrInvalidDefinition, "version", "%q is not a MAJOR.MINOR.PATCH version", p.Version)
	}

	if len(p.Steps) == 0 {
		return newValidationError(ErrInvalidDefinition, "steps", "at least one step is required")
	}

	ids := make(map[string]struct{}, len(p.Steps))
	for _, step := range p.Steps {
		if err := step.Validate(); err != nil {
			return err
		}

		if _, dup := ids[step.ID]; dup {
			return newValidationError(ErrInvalidDefinition, "steps.id", "duplicate step id %q", step.ID)
		}

		ids[step.ID] = struct{}{}
	}

	for _, step := range p.Steps {
		for _, ref := range step.References() {
			if ref == EndStep {
				continue
			}

			if _, ok := ids[ref]; !ok {
				return newValidationError(ErrUnknownNextStep, "steps."+step.ID, "references unknown step %q", ref)
			}
		}
	}

	return nil
}

// BumpPatch increments the patch component of the version.
func (p *ProcessDefinition) BumpPatch() {
	m := versionPattern.FindStringSubmatch(p.Version)
	if m == nil {
		p.Version = InitialVersion

		return
	}

	patch, _ := strconv.Atoi(m[3])
	p.Version = fmt.Sprintf("%s.%s.%d", m[1], m[2], patch+1)
}

// Clone returns a deep copy of the definition.
func (p *ProcessDefinition) Clone() (*ProcessDefinition, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to copy process definition: %w", err)
	}

	var out ProcessDefinition
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to copy process definition: %w", err)
	}

	return &out, nil
}

// Snapshot captures an immutable deep copy of the step graph.
func (p *ProcessDefinition) Snapshot() (Snapshot, error) {
	clone, err := p.Clone()
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		ProcessID: clone.ID,
		Name:      clone.Name,
		Version:   clone.Version,
		Steps:     clone.Steps,
	}, nil
}

// Snapshot is the copy of a definition's step graph an instance executes.
type Snapshot struct {
	ProcessID string `json:"process_id"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	Steps     []Step `json:"steps"`
}

// Step looks up a step by id.
func (s Snapshot) Step(id string) (Step, bool) {
	for _, step := range s.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return Step{}, false
}

// FirstStep returns the id of the entry step.
func (s Snapshot) FirstStep() string {
	if len(s.Steps) == 0 {
		return ""
	}

	return s.Steps[0].ID
}

// NextStep resolves where control goes after currentID. A non-empty override
// (a decision target) wins over the step's explicit Next, which wins over the
// linear successor. An empty result means the process is done.
func (s Snapshot) NextStep(currentID, override string) (string, error) {
	idx := -1

	for i, step := range s.Steps {
		if step.ID == currentID {
			idx = i

			break
		}
	}

	if idx < 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownNextStep, currentID)
	}

	target := override
	if target == "" {
		target = s.Steps[idx].Next
	}

	switch {
	case target == EndStep:
		return "", nil
	case target != "":
		if _, ok := s.Step(target); !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownNextStep, target)
		}

		return target, nil
	case idx+1 < len(s.Steps):
		return s.Steps[idx+1].ID, nil
	default:
		return "", nil
	}
}
