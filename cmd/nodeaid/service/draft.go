package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/nodeai/nodeai/common/cache"
	"github.com/nodeai/nodeai/common/logger"
	"github.com/nodeai/nodeai/common/validation"
	"github.com/nodeai/nodeai/engine/registry"
	"github.com/nodeai/nodeai/engine/workflow"
)

// ErrDraftNotFound is returned when a draft id is unknown or expired
var ErrDraftNotFound = fmt.Errorf("draft not found")

const draftKeyPrefix = "draft:"

// DraftService manages workflow drafts in the TTL cache. Drafts are
// working documents: the envelope must always be well formed, but
// graph-level validation waits until the draft is run.
type DraftService struct {
	cache    cache.Cache
	envelope *validation.WorkflowValidator
	patches  *validation.PatchValidator
	registry *registry.Registry
	ttl      time.Duration
	log      *logger.Logger
}

// NewDraftService creates a draft service
func NewDraftService(c cache.Cache, reg *registry.Registry, ttl time.Duration, log *logger.Logger) (*DraftService, error) {
	envelope, err := validation.NewWorkflowValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow validator: %w", err)
	}

	return &DraftService{
		cache:    c,
		envelope: envelope,
		patches:  validation.NewPatchValidator(),
		registry: reg,
		ttl:      ttl,
		log:      log.WithComponent("drafts"),
	}, nil
}

// Create validates and stores a new draft, assigning it an id
func (s *DraftService) Create(ctx context.Context, body []byte) (string, json.RawMessage, error) {
	if err := s.validate(body); err != nil {
		return "", nil, err
	}

	id := uuid.New().String()
	doc, err := withID(body, id)
	if err != nil {
		return "", nil, err
	}

	if err := s.cache.Set(ctx, draftKeyPrefix+id, doc, s.ttl); err != nil {
		return "", nil, fmt.Errorf("failed to store draft: %w", err)
	}

	s.log.Info("draft created", "draft_id", id)
	return id, doc, nil
}

// Get returns a draft document
func (s *DraftService) Get(ctx context.Context, id string) (json.RawMessage, error) {
	doc, ok, err := s.cache.Get(ctx, draftKeyPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}
	if !ok {
		return nil, ErrDraftNotFound
	}
	return doc, nil
}

// Patch applies an RFC6902 patch to a draft and stores the result.
// The patched document must still pass envelope validation.
func (s *DraftService) Patch(ctx context.Context, id string, patchBody []byte) (json.RawMessage, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var operations []map[string]interface{}
	if err := json.Unmarshal(patchBody, &operations); err != nil {
		return nil, fmt.Errorf("invalid patch document: %w", err)
	}
	if err := s.patches.ValidateOperations(operations); err != nil {
		return nil, err
	}

	patch, err := jsonpatch.DecodePatch(patchBody)
	if err != nil {
		return nil, fmt.Errorf("invalid patch document: %w", err)
	}
	patched, err := patch.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to apply patch: %w", err)
	}

	if err := s.validate(patched); err != nil {
		return nil, err
	}
	// The draft id is canonical even if a patch touched it
	patched, err = withID(patched, id)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, draftKeyPrefix+id, patched, s.ttl); err != nil {
		return nil, fmt.Errorf("failed to store draft: %w", err)
	}

	s.log.Info("draft patched", "draft_id", id, "operations", len(operations))
	return patched, nil
}

// Delete removes a draft
func (s *DraftService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.cache.Delete(ctx, draftKeyPrefix+id)
}

// Parse materializes a draft into a workflow ready to run
func (s *DraftService) Parse(ctx context.Context, id string) (*workflow.Workflow, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	wf, err := workflow.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse draft: %w", err)
	}
	return wf, nil
}

// validate runs the envelope schema plus config-schema checks for node
// types that are already registered. Unknown types are allowed in a
// draft; the planner rejects them at run time.
func (s *DraftService) validate(body []byte) error {
	if err := s.envelope.ValidateBytes(body); err != nil {
		return err
	}

	wf, err := workflow.Parse(body)
	if err != nil {
		return fmt.Errorf("failed to parse workflow: %w", err)
	}
	for _, node := range wf.Nodes {
		if !s.registry.Contains(node.Type) {
			continue
		}
		if err := s.registry.ValidateConfig(node.Type, node.Config); err != nil {
			return fmt.Errorf("node %q: %w", node.ID, err)
		}
	}
	return nil
}

// withID rewrites the document's id field
func withID(doc []byte, id string) (json.RawMessage, error) {
	var envelope map[string]interface{}
	if err := json.Unmarshal(doc, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}
	envelope["id"] = id

	out, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode draft: %w", err)
	}
	return out, nil
}
