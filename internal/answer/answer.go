// Package answer turns retrieved row documents into answers, either through a
// hosted generation model or by returning the documents themselves.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ghgrag/internal/domain"
	"ghgrag/internal/log"
)

// Modes reported by Pipeline.Mode.
const (
	ModeHosted = "hosted"
	ModeLocal  = "local"
)

// PromptTemplate is the single-shot "stuff" prompt: every retrieved context
// goes into one generation call.
const PromptTemplate = "Use the following pieces of context to answer the question at the end. " +
	"If you don't know the answer, just say that you don't know, don't try to make up an answer.\n\n" +
	"%s\n\nQuestion: %s\nHelpful Answer:"

// Retriever is the part of the index the answerers need.
type Retriever interface {
	Ready() bool
	Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

// Answerer answers a question with one or more strings.
type Answerer interface {
	Answer(ctx context.Context, question string, k int) ([]string, error)
}

// LocalAnswerer returns the retrieved document contents verbatim.
type LocalAnswerer struct {
	retriever Retriever
}

func NewLocalAnswerer(r Retriever) *LocalAnswerer { return &LocalAnswerer{retriever: r} }

func (a *LocalAnswerer) Answer(ctx context.Context, question string, k int) ([]string, error) {
	res, err := a.retriever.Search(ctx, question, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(res))
	for i, r := range res {
		out[i] = r.Document.Content
	}
	return out, nil
}

// HostedAnswerer retrieves k documents and asks the generator once.
type HostedAnswerer struct {
	retriever Retriever
	generator Generator
}

func NewHostedAnswerer(r Retriever, g Generator) *HostedAnswerer {
	return &HostedAnswerer{retriever: r, generator: g}
}

func (a *HostedAnswerer) Answer(ctx context.Context, question string, k int) ([]string, error) {
	res, err := a.retriever.Search(ctx, question, k)
	if err != nil {
		return nil, err
	}
	text, err := a.generator.Generate(ctx, BuildPrompt(question, res))
	if err != nil {
		return nil, err
	}
	return []string{text}, nil
}

// BuildPrompt fills PromptTemplate with the retrieved contents joined by blank lines.
func BuildPrompt(question string, results []domain.SearchResult) string {
	contexts := make([]string, len(results))
	for i, r := range results {
		contexts[i] = r.Document.Content
	}
	return fmt.Sprintf(PromptTemplate, strings.Join(contexts, "\n\n"), question)
}

// Pipeline selects the hosted answerer when a generator is configured and
// downgrades to local retrieval for any call where it fails.
type Pipeline struct {
	retriever Retriever
	hosted    *HostedAnswerer
	local     *LocalAnswerer
	logger    *log.Logger
}

// NewPipeline builds a pipeline over r. A nil generator selects local mode.
func NewPipeline(r Retriever, g Generator, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Nop()
	}
	p := &Pipeline{
		retriever: r,
		local:     NewLocalAnswerer(r),
		logger:    logger.With("component", "answer"),
	}
	if g != nil {
		p.hosted = NewHostedAnswerer(r, g)
		p.logger.Info("hosted model configured", "model", g.ModelName())
	}
	return p
}

// Mode reports whether answers come from the hosted model or from retrieval.
func (p *Pipeline) Mode() string {
	if p.hosted != nil {
		return ModeHosted
	}
	return ModeLocal
}

// Answer never fails: problems come back as a single message.
func (p *Pipeline) Answer(ctx context.Context, question string, k int) []string {
	if p.retriever == nil || !p.retriever.Ready() {
		return []string{"Error: " + domain.ErrNotInitialized.Error()}
	}
	if p.hosted != nil {
		out, err := p.hosted.Answer(ctx, question, k)
		if err == nil {
			return out
		}
		p.logger.Warn("hosted answer failed, using local retrieval", "error", err)
	}
	out, err := p.local.Answer(ctx, question, k)
	if err != nil {
		p.logger.Error("local answer failed", "error", err)
		if errors.Is(err, domain.ErrNotInitialized) {
			return []string{"Error: " + err.Error()}
		}
		return []string{"Error processing query: " + err.Error()}
	}
	return out
}

// SimilarDocuments returns the k nearest documents with their metadata.
func (p *Pipeline) SimilarDocuments(ctx context.Context, question string, k int) []domain.DocumentResult {
	if p.retriever == nil {
		return []domain.DocumentResult{{Error: domain.ErrNotInitialized.Error()}}
	}
	res, err := p.retriever.Search(ctx, question, k)
	if err != nil {
		return []domain.DocumentResult{{Error: err.Error()}}
	}
	out := make([]domain.DocumentResult, len(res))
	for i, r := range res {
		out[i] = domain.DocumentResult{Content: r.Document.Content, Metadata: r.Document.Metadata}
	}
	return out
}
