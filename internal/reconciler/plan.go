// Package reconciler diffs observed cloud state against a declared plan,
// classifies drift, compliance violations and cost anomalies, and drives
// remediation through the change governor.
package reconciler

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/moorhen/cartograph/internal/models"
)

// PlannedResource is one declared resource in a plan. Properties hold the
// desired configuration the reconciler enforces.
type PlannedResource struct {
	ID                   string                 `yaml:"id" json:"id"`
	Name                 string                 `yaml:"name" json:"name"`
	ResourceType         models.ResourceType    `yaml:"type" json:"type"`
	Provider             models.Provider        `yaml:"provider" json:"provider"`
	Region               string                 `yaml:"region" json:"region"`
	Properties           map[string]interface{} `yaml:"properties" json:"properties"`
	EstimatedCostMonthly float64                `yaml:"estimatedCostMonthly" json:"estimatedCostMonthly"`
}

// Plan declares desired resources by plan-local id.
type Plan struct {
	ID        string            `yaml:"id" json:"id"`
	Name      string            `yaml:"name" json:"name"`
	Resources []PlannedResource `yaml:"resources" json:"resources"`
}

// Resource returns the planned resource with the given plan-local id.
func (p *Plan) Resource(id string) *PlannedResource {
	for i := range p.Resources {
		if p.Resources[i].ID == id {
			return &p.Resources[i]
		}
	}
	return nil
}

// ProvisionedResource maps a plan-local id to the cloud identifier that
// provisioning produced.
type ProvisionedResource struct {
	PlanResourceID string `yaml:"planResourceId" json:"planResourceId"`
	NativeID       string `yaml:"nativeId" json:"nativeId"`
}

// Execution records what a plan's provisioning actually created.
type Execution struct {
	ID        string                `yaml:"id" json:"id"`
	PlanID    string                `yaml:"planId" json:"planId"`
	Resources []ProvisionedResource `yaml:"resources" json:"resources"`
}

// LoadPlan reads a plan from a YAML file.
func LoadPlan(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return ParsePlan(raw)
}

// ParsePlan decodes a YAML plan document.
func ParsePlan(raw []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("plan id is required: %w", models.ErrInvalidArgument)
	}
	seen := map[string]bool{}
	for _, r := range p.Resources {
		if r.ID == "" {
			return nil, fmt.Errorf("plan %s has a resource without an id: %w", p.ID, models.ErrInvalidArgument)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("plan %s declares resource %s twice: %w", p.ID, r.ID, models.ErrInvalidArgument)
		}
		seen[r.ID] = true
	}
	return &p, nil
}

// LoadExecution reads an execution record from a YAML file.
func LoadExecution(path string) (*Execution, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read execution: %w", err)
	}
	var e Execution
	if err := yaml.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to parse execution: %w", err)
	}
	if e.ID == "" || e.PlanID == "" {
		return nil, fmt.Errorf("execution id and planId are required: %w", models.ErrInvalidArgument)
	}
	return &e, nil
}

// statefulTypes require a final snapshot before any destroy sequence.
var statefulTypes = map[models.ResourceType]bool{
	models.ResourceDatabase: true,
	models.ResourceStorage:  true,
	models.ResourceCache:    true,
	models.ResourceStream:   true,
}

// updatableTypes support modify-in-place remediation.
var updatableTypes = map[models.ResourceType]bool{
	models.ResourceDatabase:   true,
	models.ResourceServerless: true,
	models.ResourceContainer:  true,
	models.ResourceStorage:    true,
}
