package socratic

import (
	"bytes"
	"context"
	_ "embed"
	"log/slog"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/knowledge"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/utils/logging"
)

//go:embed prompt/turn.md
var turnPromptRaw string

var turnPromptTmpl = template.Must(template.New("turn").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(turnPromptRaw))

// State is the phase of an in-flight dialogue turn.
type State int

const (
	StateIdle State = iota
	StateRetrieving
	StatePromptAssembly
	StateGenerating
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrieving:
		return "retrieving"
	case StatePromptAssembly:
		return "prompt_assembly"
	case StateGenerating:
		return "generating"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type TurnInput struct {
	SessionID model.SessionID `json:"session_id"`
	Text      string          `json:"text"`
	// Config overrides the engine's generation config when set.
	Config *model.GenerationConfig `json:"config,omitempty"`
	// Strategy overrides the engine's strategy when set.
	Strategy model.Strategy `json:"strategy,omitempty"`
}

type TurnOutput struct {
	Text         string          `json:"text"`
	State        State           `json:"state"`
	Sources      []knowledge.Hit `json:"sources"`
	PromptTokens int             `json:"prompt_tokens"`
	OutputTokens int             `json:"output_tokens"`
}

// turnRun tracks the state of one turn.
type turnRun struct {
	state  State
	logger *slog.Logger
}

func (r *turnRun) enter(next State) {
	r.logger.Debug("turn state changed", "from", r.state.String(), "to", next.String())
	r.state = next
}

func (r *turnRun) fail(err error) error {
	from := r.state
	r.enter(StateError)
	return goerr.Wrap(err, "turn failed", goerr.V("state", from.String()))
}

// Turn runs one dialogue exchange. On success the user text and the reply are
// appended to the session together; on any failure, including cancellation,
// the session is left unchanged.
func (e *Engine) Turn(ctx context.Context, input TurnInput) (*TurnOutput, error) {
	run := &turnRun{
		state:  StateIdle,
		logger: logging.From(ctx).With("session_id", input.SessionID),
	}

	if input.SessionID == "" {
		return nil, run.fail(goerr.Wrap(model.ErrInvalidConfig, "session id is required"))
	}
	question := strings.TrimSpace(input.Text)
	if question == "" {
		return nil, run.fail(goerr.Wrap(model.ErrInvalidConfig, "input text is empty"))
	}
	strategy := e.strategy
	if input.Strategy != "" {
		strategy = input.Strategy
	}
	if err := strategy.Validate(); err != nil {
		return nil, run.fail(err)
	}
	cfg, err := e.generationConfig(input.Config)
	if err != nil {
		return nil, run.fail(err)
	}
	if len(cfg.Stop) == 0 {
		cfg.Stop = []string{e.tok.Normalize("Student:")}
	}

	run.enter(StateRetrieving)
	hits, err := e.retrieve(ctx, question)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, run.fail(goerr.Wrap(ctxErr, "turn canceled"))
		}
		if !e.degrade {
			return nil, run.fail(err)
		}
		run.logger.Warn("retrieval failed, continuing without passages", "error", err)
		hits = nil
	}

	run.enter(StatePromptAssembly)
	history := e.memory.GetContext(input.SessionID, e.memoryBudget)
	ids, used, err := e.assembleTurnPrompt(strategy, question, hits, history, cfg.MaxTokens)
	if err != nil {
		return nil, run.fail(err)
	}

	run.enter(StateGenerating)
	out, err := e.inference.Generate(ctx, ids, cfg)
	if err != nil {
		return nil, run.fail(err)
	}
	reply := strings.TrimSpace(e.tok.Decode(out))

	// cancellation after generation still discards the turn
	if err := ctx.Err(); err != nil {
		return nil, run.fail(goerr.Wrap(err, "turn canceled"))
	}

	now := e.now()
	user := model.Turn{Role: model.RoleUser, Text: question, Tokens: e.tok.Count(question), CreatedAt: now}
	assistant := model.Turn{Role: model.RoleAssistant, Text: reply, Tokens: len(out), CreatedAt: now}
	if err := e.memory.AppendExchange(input.SessionID, user, assistant); err != nil {
		return nil, run.fail(err)
	}

	run.enter(StateComplete)
	return &TurnOutput{
		Text:         reply,
		State:        run.state,
		Sources:      used,
		PromptTokens: len(ids),
		OutputTokens: len(out),
	}, nil
}

type historyLine struct {
	Speaker string
	Text    string
}

// assembleTurnPrompt renders the prompt and shrinks it until it leaves room for
// maxTokens of output: lowest-scored passages go first, then the oldest
// history, and finally the head of the prompt is cut (BOS is kept).
func (e *Engine) assembleTurnPrompt(strategy model.Strategy, question string, hits []knowledge.Hit, history []model.Turn, maxTokens int) ([]model.TokenID, []knowledge.Hit, error) {
	avail := e.inference.ContextBudget() - maxTokens
	if avail < 2 {
		return nil, nil, goerr.Wrap(model.ErrContextWindowExceeded, "no room for a prompt",
			goerr.V("context_budget", e.inference.ContextBudget()),
			goerr.V("max_tokens", maxTokens))
	}

	for {
		prompt, err := renderTurnPrompt(strategy, question, hits, history)
		if err != nil {
			return nil, nil, err
		}

		ids := e.tok.Wrap(e.tok.Encode(prompt))
		switch {
		case len(ids) <= avail:
			return ids, hits, nil
		case len(hits) > 0:
			hits = hits[:len(hits)-1]
		case len(history) > 0:
			history = history[1:]
		default:
			truncated := make([]model.TokenID, 0, avail)
			truncated = append(truncated, e.tok.Special().BOS)
			truncated = append(truncated, ids[len(ids)-(avail-1):]...)
			return truncated, hits, nil
		}
	}
}

func renderTurnPrompt(strategy model.Strategy, question string, hits []knowledge.Hit, history []model.Turn) (string, error) {
	passages := make([]string, 0, len(hits))
	for _, h := range hits {
		passages = append(passages, h.Document.Text)
	}

	lines := make([]historyLine, 0, len(history))
	for _, t := range history {
		speaker := "Student"
		if t.Role == model.RoleAssistant {
			speaker = "Tutor"
		}
		lines = append(lines, historyLine{Speaker: speaker, Text: t.Text})
	}

	var buf bytes.Buffer
	if err := turnPromptTmpl.Execute(&buf, map[string]any{
		"Persona":  strategy.Persona(),
		"Passages": passages,
		"History":  lines,
		"Question": question,
	}); err != nil {
		return "", goerr.Wrap(model.ErrTokenizationFailed, "failed to render turn prompt", goerr.V("cause", err.Error()))
	}
	return buf.String(), nil
}
