package socratic

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/knowledge"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/utils/logging"
)

//go:embed prompt/blueprint.md
var blueprintPromptRaw string

var blueprintPromptTmpl = template.Must(template.New("blueprint").Parse(blueprintPromptRaw))

const defaultMaxNodes = 6

var blueprintSchema = &jsonschema.Schema{
	Type:     "object",
	Required: []string{"title", "nodes"},
	Properties: map[string]*jsonschema.Schema{
		"topic": {Type: "string"},
		"title": {Type: "string"},
		"nodes": {
			Type: "array",
			Items: &jsonschema.Schema{
				Type:     "object",
				Required: []string{"id", "title"},
				Properties: map[string]*jsonschema.Schema{
					"id":      {Type: "string"},
					"title":   {Type: "string"},
					"summary": {Type: "string"},
					"prerequisites": {
						Type:  "array",
						Items: &jsonschema.Schema{Type: "string"},
					},
				},
			},
		},
	},
}

// GenerateBlueprint produces a curriculum for req. Model output that is not a
// well-formed blueprint fails with model.ErrBlueprintParseFailed; nothing is
// repaired or retried. Without a model, a fixed three-step path is returned.
func (e *Engine) GenerateBlueprint(ctx context.Context, req model.BlueprintRequest, cfg *model.GenerationConfig) (*model.BlueprintResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.MaxNodes == 0 {
		req.MaxNodes = defaultMaxNodes
	}

	var bp *model.BlueprintResponse
	if e.inference.IsEcho() {
		bp = fallbackBlueprint(req)
	} else {
		genCfg, err := e.generationConfig(cfg)
		if err != nil {
			return nil, err
		}

		text, err := e.generateBlueprintText(ctx, req, genCfg)
		if err != nil {
			return nil, err
		}

		bp, err = e.parseBlueprint(text, req)
		if err != nil {
			return nil, err
		}
	}
	bp.GeneratedAt = e.now().UTC()

	if e.policy != nil {
		reasons, err := e.policy.Check(ctx, &req, bp)
		if err != nil {
			return nil, err
		}
		if len(reasons) > 0 {
			return nil, goerr.Wrap(model.ErrBlueprintRejected, "blueprint rejected by policy",
				goerr.V("topic", req.Topic),
				goerr.V("reasons", reasons))
		}
	}

	return bp, nil
}

func (e *Engine) generateBlueprintText(ctx context.Context, req model.BlueprintRequest, cfg model.GenerationConfig) (string, error) {
	hits, err := e.retrieve(ctx, strings.TrimSpace(req.Topic+" "+req.Goal))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", goerr.Wrap(ctxErr, "blueprint canceled")
		}
		logging.From(ctx).Warn("retrieval failed, generating blueprint without passages", "error", err)
		hits = nil
	}

	avail := e.inference.ContextBudget() - cfg.MaxTokens
	var ids []model.TokenID
	for {
		prompt, err := renderBlueprintPrompt(req, hits)
		if err != nil {
			return "", err
		}
		ids = e.tok.Wrap(e.tok.Encode(prompt))
		if len(ids) <= avail {
			break
		}
		if len(hits) == 0 {
			return "", goerr.Wrap(model.ErrContextWindowExceeded, "blueprint prompt does not fit context budget",
				goerr.V("prompt_tokens", len(ids)),
				goerr.V("max_tokens", cfg.MaxTokens),
				goerr.V("context_budget", e.inference.ContextBudget()))
		}
		hits = hits[:len(hits)-1]
	}

	out, err := e.inference.Generate(ctx, ids, cfg)
	if err != nil {
		return "", err
	}
	return e.tok.Decode(out), nil
}

func renderBlueprintPrompt(req model.BlueprintRequest, hits []knowledge.Hit) (string, error) {
	passages := make([]string, 0, len(hits))
	for _, h := range hits {
		passages = append(passages, h.Document.Text)
	}

	var buf bytes.Buffer
	if err := blueprintPromptTmpl.Execute(&buf, map[string]any{
		"Topic":       req.Topic,
		"Goal":        req.Goal,
		"Constraints": req.Constraints,
		"MaxNodes":    req.MaxNodes,
		"Passages":    passages,
	}); err != nil {
		return "", goerr.Wrap(model.ErrTokenizationFailed, "failed to render blueprint prompt", goerr.V("cause", err.Error()))
	}
	return buf.String(), nil
}

// parseBlueprint takes the text between the first '{' and the last '}' and
// checks it against the schema and the prerequisite ordering.
func (e *Engine) parseBlueprint(text string, req model.BlueprintRequest) (*model.BlueprintResponse, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, goerr.Wrap(model.ErrBlueprintParseFailed, "no JSON object in model output",
			goerr.V("output", text))
	}
	raw := []byte(text[start : end+1])

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, goerr.Wrap(model.ErrBlueprintParseFailed, "model output is not valid JSON",
			goerr.V("cause", err.Error()),
			goerr.V("output", string(raw)))
	}
	if err := e.schema.Validate(instance); err != nil {
		return nil, goerr.Wrap(model.ErrBlueprintParseFailed, "model output does not match blueprint schema",
			goerr.V("cause", err.Error()),
			goerr.V("output", string(raw)))
	}

	var bp model.BlueprintResponse
	if err := json.Unmarshal(raw, &bp); err != nil {
		return nil, goerr.Wrap(model.ErrBlueprintParseFailed, "failed to decode blueprint",
			goerr.V("cause", err.Error()))
	}
	if err := bp.Validate(); err != nil {
		return nil, goerr.Wrap(model.ErrBlueprintParseFailed, "invalid blueprint structure",
			goerr.V("cause", err.Error()))
	}
	if len(bp.Nodes) > req.MaxNodes {
		return nil, goerr.Wrap(model.ErrBlueprintParseFailed, "blueprint has too many nodes",
			goerr.V("nodes", len(bp.Nodes)),
			goerr.V("max_nodes", req.MaxNodes))
	}

	if bp.Topic == "" {
		bp.Topic = req.Topic
	}
	return &bp, nil
}

// fallbackBlueprint is the blueprint returned when no model is loaded.
func fallbackBlueprint(req model.BlueprintRequest) *model.BlueprintResponse {
	goal := req.Goal
	if goal == "" {
		goal = fmt.Sprintf("use %s on a new problem", req.Topic)
	}

	nodes := []model.LearningNode{
		{
			ID:      "foundations",
			Title:   fmt.Sprintf("Foundations of %s", req.Topic),
			Summary: fmt.Sprintf("What %s is and the vocabulary used to describe it.", req.Topic),
		},
		{
			ID:            "core",
			Title:         fmt.Sprintf("Core ideas of %s", req.Topic),
			Summary:       fmt.Sprintf("The principles that explain how %s works.", req.Topic),
			Prerequisites: []string{"foundations"},
		},
		{
			ID:            "practice",
			Title:         fmt.Sprintf("Applying %s", req.Topic),
			Summary:       fmt.Sprintf("Work toward the goal: %s.", goal),
			Prerequisites: []string{"core"},
		},
	}
	if len(nodes) > req.MaxNodes {
		nodes = nodes[:req.MaxNodes]
	}

	return &model.BlueprintResponse{
		Topic: req.Topic,
		Title: fmt.Sprintf("Learning path: %s", req.Topic),
		Nodes: nodes,
	}
}
