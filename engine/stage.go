package engine

import (
	"fmt"

	"github.com/edgemock/edgemock/spec"
)

//
// Deployments and stages
//

// CreateDeployment snapshots the API's current resource tree. When
// stageName is non-empty the stage is created pointing at the new
// deployment, or rebound to it if it already exists.
//
// A deployment of a tree whose methods lack integrations still succeeds;
// invoking such a method fails at request time.
func (e *Engine) CreateDeployment(apiID, stageName, description string) (*spec.Deployment, error) {
	state, err := e.apiState(apiID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	deployment := &spec.Deployment{
		ID:             newID(),
		Description:    description,
		RootResourceID: state.api.RootResourceID,
		Resources:      spec.CopyResources(state.api.Resources),
	}
	state.api.Deployments[deployment.ID] = deployment

	if stageName != "" {
		stage, ok := state.api.Stages[stageName]
		if !ok {
			stage = newStage(stageName)
			state.api.Stages[stageName] = stage
		}
		stage.DeploymentID = deployment.ID
	}
	return deployment, nil
}

func newStage(name string) *spec.Stage {
	return &spec.Stage{
		Name:           name,
		MethodSettings: make(map[string]*spec.MethodSetting),
		Variables:      make(map[string]string),
	}
}

// CreateStage creates a stage pointing at an existing deployment.
func (e *Engine) CreateStage(apiID, stageName, deploymentID string) (*spec.Stage, error) {
	state, err := e.apiState(apiID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if _, exists := state.api.Stages[stageName]; exists {
		return nil, conflictf("stage %q already exists", stageName)
	}
	if _, ok := state.api.Deployments[deploymentID]; !ok {
		return nil, notFoundf("deployment %q", deploymentID)
	}

	stage := newStage(stageName)
	stage.DeploymentID = deploymentID
	state.api.Stages[stageName] = stage
	return stage, nil
}

func (e *Engine) GetStage(apiID, stageName string) (*spec.Stage, error) {
	state, err := e.apiState(apiID)
	if err != nil {
		return nil, err
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	stage, ok := state.api.Stages[stageName]
	if !ok {
		return nil, notFoundf("stage %q", stageName)
	}
	return stage, nil
}

// UpdateStage applies patch operations to a stage: description, tracing,
// stage variables and per-method settings including the "*/*" wildcard.
// The patch is all-or-nothing.
func (e *Engine) UpdateStage(apiID, stageName string, ops []spec.PatchOperation) error {
	state, err := e.apiState(apiID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	stage, ok := state.api.Stages[stageName]
	if !ok {
		return notFoundf("stage %q", stageName)
	}
	if err := stage.ApplyPatch(ops); err != nil {
		return fmt.Errorf("%w: %s", ErrConflict, err)
	}
	return nil
}

// DeleteStage removes a stage. The deployment it pointed at stays.
func (e *Engine) DeleteStage(apiID, stageName string) error {
	state, err := e.apiState(apiID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if _, ok := state.api.Stages[stageName]; !ok {
		return notFoundf("stage %q", stageName)
	}
	delete(state.api.Stages, stageName)
	return nil
}

// DeleteDeployment removes a deployment. It fails while any stage still
// references it.
func (e *Engine) DeleteDeployment(apiID, deploymentID string) error {
	state, err := e.apiState(apiID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if _, ok := state.api.Deployments[deploymentID]; !ok {
		return notFoundf("deployment %q", deploymentID)
	}
	for _, stage := range state.api.Stages {
		if stage.DeploymentID == deploymentID {
			return conflictf("deployment %q is referenced by stage %q", deploymentID, stage.Name)
		}
	}
	delete(state.api.Deployments, deploymentID)
	return nil
}
