// Package policy evaluates curriculum rules written in Rego against generated
// blueprints. Rules live in package "blueprint" and add messages to the deny set.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

const denyQuery = "data.blueprint.deny"

type Policy struct {
	query *rego.PreparedEvalQuery
}

// printHook forwards Rego print() output to the logger.
type printHook struct {
	ctx context.Context
}

func (h *printHook) Print(pctx print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// Load reads a single .rego file, or every .rego file in a directory.
func Load(ctx context.Context, path string) (*Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat policy path", goerr.V("path", path))
	}

	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.rego"))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("path", path))
		}
	}
	if len(files) == 0 {
		return nil, goerr.New("no policy file found", goerr.V("path", path))
	}

	modules := make(map[string]string, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules[file] = string(data)
	}

	return New(ctx, modules)
}

// New compiles modules keyed by file name.
func New(ctx context.Context, modules map[string]string) (*Policy, error) {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	options := make([]func(*rego.Rego), 0, len(modules)+2)
	options = append(options, rego.Query(denyQuery), rego.EnablePrintStatements(true))
	for _, name := range names {
		options = append(options, rego.Module(name, modules[name]))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare policy", goerr.V("query", denyQuery))
	}

	return &Policy{query: &prepared}, nil
}

// Check returns the deny messages for bp, sorted. An empty result means the
// blueprint is accepted.
func (p *Policy) Check(ctx context.Context, req *model.BlueprintRequest, bp *model.BlueprintResponse) ([]string, error) {
	input, err := toInput(req, bp)
	if err != nil {
		return nil, err
	}

	rs, err := p.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&printHook{ctx: ctx}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate blueprint policy")
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}

	values, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil, goerr.New("deny is not a set", goerr.V("value", rs[0].Expressions[0].Value))
	}

	reasons := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			reasons = append(reasons, s)
		} else {
			reasons = append(reasons, fmt.Sprint(v))
		}
	}
	sort.Strings(reasons)
	return reasons, nil
}

func toInput(req *model.BlueprintRequest, bp *model.BlueprintResponse) (map[string]any, error) {
	raw, err := json.Marshal(struct {
		Request   *model.BlueprintRequest  `json:"request"`
		Blueprint *model.BlueprintResponse `json:"blueprint"`
	}{req, bp})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal policy input")
	}

	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, goerr.Wrap(err, "failed to build policy input")
	}
	return input, nil
}
