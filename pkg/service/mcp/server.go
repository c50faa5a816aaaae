// Package mcp serves the tutoring engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/usecase/socratic"
	"github.com/m-mizutani/socratic/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Engine is the subset of *socratic.Engine exposed as tools.
type Engine interface {
	Turn(ctx context.Context, input socratic.TurnInput) (*socratic.TurnOutput, error)
	GenerateBlueprint(ctx context.Context, req model.BlueprintRequest, cfg *model.GenerationConfig) (*model.BlueprintResponse, error)
	Ingest(ctx context.Context, input socratic.IngestInput) (*model.Document, error)
	EndSession(sid model.SessionID) bool
	GenerationConfig() model.GenerationConfig
}

type Server struct {
	engine Engine
	server *mcp.Server
}

type dialogueParams struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Session to continue. A new session is started when empty"`
	Text      string `json:"text" jsonschema:"What the learner says"`
	Strategy  string `json:"strategy,omitempty" jsonschema:"Tutoring strategy: socratic, guided or review"`
	MaxTokens int    `json:"max_tokens,omitempty" jsonschema:"Maximum number of tokens in the reply"`
	Seed      int64  `json:"seed,omitempty" jsonschema:"Sampling seed"`
}

type dialogueResult struct {
	SessionID    string   `json:"session_id"`
	Text         string   `json:"text"`
	Sources      []string `json:"sources"`
	OutputTokens int      `json:"output_tokens"`
}

type blueprintParams struct {
	Topic       string   `json:"topic" jsonschema:"Subject of the curriculum"`
	Goal        string   `json:"goal,omitempty" jsonschema:"What the learner wants to be able to do"`
	Constraints []string `json:"constraints,omitempty" jsonschema:"Extra requirements for the curriculum"`
	MaxNodes    int      `json:"max_nodes,omitempty" jsonschema:"Maximum number of learning nodes"`
}

type ingestParams struct {
	Text string   `json:"text" jsonschema:"Passage to add to the knowledge store"`
	Tags []string `json:"tags,omitempty" jsonschema:"Labels stored with the passage"`
}

type endSessionParams struct {
	SessionID string `json:"session_id" jsonschema:"Session to forget"`
}

func New(engine Engine, version string) *Server {
	s := &Server{
		engine: engine,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "socratic",
			Version: version,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "dialogue",
		Description: "Run one tutoring turn. Returns the tutor reply and the session id to continue with.",
	}, s.dialogue)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "blueprint",
		Description: "Generate a curriculum as an ordered list of learning nodes with prerequisites.",
	}, s.blueprint)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ingest",
		Description: "Add a reference passage to the knowledge store used for retrieval.",
	}, s.ingest)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "end_session",
		Description: "Forget the conversation history of a session.",
	}, s.endSession)

	return s
}

// Run serves over stdin/stdout until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "mcp server stopped")
	}
	return nil
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func (s *Server) dialogue(ctx context.Context, req *mcp.CallToolRequest, params *dialogueParams) (*mcp.CallToolResult, any, error) {
	sid := model.SessionID(params.SessionID)
	if sid == "" {
		sid = model.NewSessionID()
	}

	var cfg *model.GenerationConfig
	if params.MaxTokens > 0 || params.Seed != 0 {
		c := s.engine.GenerationConfig()
		if params.MaxTokens > 0 {
			c.MaxTokens = params.MaxTokens
		}
		if params.Seed != 0 {
			c.Seed = params.Seed
		}
		cfg = &c
	}

	out, err := s.engine.Turn(ctx, socratic.TurnInput{
		SessionID: sid,
		Text:      params.Text,
		Config:    cfg,
		Strategy:  model.Strategy(params.Strategy),
	})
	if err != nil {
		return toolError(ctx, "dialogue", err), nil, nil
	}

	sources := make([]string, 0, len(out.Sources))
	for _, h := range out.Sources {
		sources = append(sources, string(h.Document.ID))
	}

	return jsonResult(ctx, dialogueResult{
		SessionID:    string(sid),
		Text:         out.Text,
		Sources:      sources,
		OutputTokens: out.OutputTokens,
	}), nil, nil
}

func (s *Server) blueprint(ctx context.Context, req *mcp.CallToolRequest, params *blueprintParams) (*mcp.CallToolResult, any, error) {
	bp, err := s.engine.GenerateBlueprint(ctx, model.BlueprintRequest{
		Topic:       params.Topic,
		Goal:        params.Goal,
		Constraints: params.Constraints,
		MaxNodes:    params.MaxNodes,
	}, nil)
	if err != nil {
		return toolError(ctx, "blueprint", err), nil, nil
	}
	return jsonResult(ctx, bp), nil, nil
}

func (s *Server) ingest(ctx context.Context, req *mcp.CallToolRequest, params *ingestParams) (*mcp.CallToolResult, any, error) {
	doc, err := s.engine.Ingest(ctx, socratic.IngestInput{Text: params.Text, Tags: params.Tags})
	if err != nil {
		return toolError(ctx, "ingest", err), nil, nil
	}
	return jsonResult(ctx, map[string]any{
		"id":   doc.ID,
		"tags": doc.Tags,
	}), nil, nil
}

func (s *Server) endSession(ctx context.Context, req *mcp.CallToolRequest, params *endSessionParams) (*mcp.CallToolResult, any, error) {
	ended := s.engine.EndSession(model.SessionID(params.SessionID))
	return jsonResult(ctx, map[string]bool{"ended": ended}), nil, nil
}

func jsonResult(ctx context.Context, v any) *mcp.CallToolResult {
	raw, err := json.Marshal(v)
	if err != nil {
		return toolError(ctx, "encode", goerr.Wrap(err, "failed to encode tool result"))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}
}

func toolError(ctx context.Context, tool string, err error) *mcp.CallToolResult {
	logging.From(ctx).Warn("tool call failed", "tool", tool, "error", err)
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}
