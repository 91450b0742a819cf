// Package mcpadapter exposes the FAQ pipeline as Model Context Protocol tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/core/ports"
)

const (
	toolAskFAQ         = "ask_faq"
	toolWriteKnowledge = "write_knowledge"
)

type Server struct {
	faq       ports.FAQService
	knowledge ports.KnowledgeWriter
	mcp       *server.MCPServer
}

// New registers ask_faq, and write_knowledge when knowledge is not nil.
func New(name, version string, faq ports.FAQService, knowledge ports.KnowledgeWriter) *Server {
	s := &Server{
		faq:       faq,
		knowledge: knowledge,
		mcp:       server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool(toolAskFAQ,
		mcp.WithDescription("Answer a question about the Faculté des Sciences d'Oujda (registration, exams, schedules, programs). Answers in the question's language."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question, in French, English, Arabic or Amazigh.")),
		mcp.WithString("lang", mcp.Description("Optional language hint: fr, en, ar or amz.")),
		mcp.WithNumber("k", mcp.Description("Number of knowledge base entries to use (default 3).")),
		mcp.WithBoolean("use_llm", mcp.Description("Synthesize a natural answer with the language model (default true).")),
	), s.askFAQ)

	if knowledge != nil {
		s.mcp.AddTool(mcp.NewTool(toolWriteKnowledge,
			mcp.WithDescription("Add a question/answer pair to the FSO knowledge base."),
			mcp.WithString("lang", mcp.Required(), mcp.Description("Language of the pair: fr, en, ar or amz.")),
			mcp.WithString("question", mcp.Required(), mcp.Description("The question text.")),
			mcp.WithString("answer", mcp.Required(), mcp.Description("The answer text.")),
			mcp.WithString("meta", mcp.Description("Optional metadata, for example the source page.")),
		), s.writeKnowledge)
	}
	return s
}

func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) askFAQ(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("question is required"), nil
	}

	query := domain.Query{
		Text:   question,
		TopK:   request.GetInt("k", 0),
		UseLLM: request.GetBool("use_llm", true),
	}
	if lang := request.GetString("lang", ""); lang != "" {
		query.Language = domain.ParseLanguage(lang)
	}

	env, err := s.faq.Ask(ctx, query)
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		slog.Error("mcp_ask_faq_failed", "error", err)
		return nil, fmt.Errorf("ask faq: %w", err)
	}
	env.RawResults = nil

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal answer envelope: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) writeKnowledge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lang := domain.ParseLanguage(request.GetString("lang", ""))
	if !lang.IsSupported() {
		return mcp.NewToolResultError("lang must be one of fr, en, ar, amz"), nil
	}
	question := strings.TrimSpace(request.GetString("question", ""))
	answer := strings.TrimSpace(request.GetString("answer", ""))
	if question == "" || answer == "" {
		return mcp.NewToolResultError("question and answer are required"), nil
	}

	entry := domain.NewSingleEntry(lang, question, answer, request.GetString("meta", ""), "mcp")
	result, err := s.knowledge.Write(ctx, entry)
	if err != nil {
		slog.Error("mcp_write_knowledge_failed", "error", err, "lang", string(lang))
		return nil, fmt.Errorf("write knowledge: %w", err)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal write result: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}
