// Package pipeline orchestrates the query path: plan, retrieve, fuse, rerank,
// assemble context, dispatch a tool, generate the answer and suggest
// follow-ups. Every stage is traced and measured; optional stages degrade
// instead of failing the request.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docpilot/backend/internal/contextbuild"
	"github.com/docpilot/backend/internal/fusion"
	"github.com/docpilot/backend/internal/generation"
	"github.com/docpilot/backend/internal/metrics"
	"github.com/docpilot/backend/internal/observability"
	"github.com/docpilot/backend/internal/retrieval"
	"github.com/docpilot/backend/internal/storage/models"
	"github.com/docpilot/backend/pkg/config"
	"github.com/docpilot/backend/pkg/logger"
)

// Retriever is one retrieval method (dense or lexical).
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.Candidate, error)
}

// Planner splits a compound query into sub-queries. Implementations must not
// fail the request; on any problem they return the original query.
type Planner interface {
	Plan(ctx context.Context, query string) []string
}

// ToolSet routes a query to a tool and runs it.
type ToolSet interface {
	Route(ctx context.Context, query, contextText string) string
	Run(ctx context.Context, name, query, contextText string, used []retrieval.Candidate) (string, error)
}

type Generator interface {
	Generate(ctx context.Context, query, contextText, toolName, toolOutput string) (generation.Answer, error)
}

type Suggester interface {
	Suggest(ctx context.Context, query, answer string) []string
}

// HistoryStore persists the per-query record. Writes are best-effort.
type HistoryStore interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
}

type Options struct {
	DefaultK         int
	MaxK             int
	MaxContextTokens int
	MaxFanOut        int
	Features         config.FeaturesConfig
}

type Request struct {
	Query    string
	K        int
	Identity string
}

type Citation struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Ref        string `json:"ref"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type Result struct {
	ID         string     `json:"id"`
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	Followups  []string   `json:"followups,omitempty"`
	UsedTool   string     `json:"used_tool,omitempty"`
	ToolOutput string     `json:"tool_output,omitempty"`
	Plan       []string   `json:"plan,omitempty"`
	Degraded   []string   `json:"degraded,omitempty"`
	Usage      Usage      `json:"usage"`
	LatencyMS  int        `json:"latency_ms"`
}

type Engine struct {
	dense     Retriever
	lexical   Retriever
	fuser     *fusion.Fuser
	reranker  fusion.Reranker
	planner   Planner
	tools     ToolSet
	generator Generator
	suggester Suggester
	history   HistoryStore
	opts      Options
}

func NewEngine(dense, lexical Retriever, fuser *fusion.Fuser, reranker fusion.Reranker,
	planner Planner, tools ToolSet, generator Generator, suggester Suggester,
	history HistoryStore, opts Options) *Engine {
	if opts.DefaultK <= 0 {
		opts.DefaultK = 5
	}
	if opts.MaxK <= 0 {
		opts.MaxK = 50
	}
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = 1500
	}
	if opts.MaxFanOut <= 0 {
		opts.MaxFanOut = 3
	}
	return &Engine{
		dense:     dense,
		lexical:   lexical,
		fuser:     fuser,
		reranker:  reranker,
		planner:   planner,
		tools:     tools,
		generator: generator,
		suggester: suggester,
		history:   history,
		opts:      opts,
	}
}

// Execute runs the full pipeline for one query. It returns
// retrieval.ErrUnavailable when no retrieval method produced candidates due
// to backend failure, and generation.ErrUnavailable when the answer could not
// be generated; every other stage failure degrades the result instead.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	tracer := observability.Tracer()

	ctx, span := tracer.Start(ctx, "query.receive", trace.WithAttributes(
		attribute.Int("query.length", len(req.Query)),
	))
	defer span.End()

	result := &Result{ID: uuid.New().String()}

	k := req.K
	if k <= 0 {
		k = e.opts.DefaultK
	}
	if k > e.opts.MaxK {
		k = e.opts.MaxK
	}

	queries := e.plan(ctx, tracer, req.Query, result)

	dense, lexical, err := e.retrieve(ctx, tracer, queries, k, result)
	if err != nil {
		return nil, err
	}

	fused := e.fuse(ctx, tracer, dense, lexical)
	ranked := e.rerank(ctx, tracer, req.Query, fused, result)

	contextText, used := e.assemble(ctx, tracer, ranked)
	result.Citations = citations(used)

	toolName, toolOutput := e.dispatchTool(ctx, tracer, req.Query, contextText, used, result)
	result.UsedTool = toolName
	result.ToolOutput = toolOutput

	answer, err := e.generate(ctx, tracer, req.Query, contextText, toolName, toolOutput)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("generate").Inc()
		return nil, err
	}
	result.Answer = answer.Text
	result.Usage = Usage{
		PromptTokens:     answer.PromptTokens,
		CompletionTokens: answer.CompletionTokens,
	}
	metrics.TokensTotal.WithLabelValues("prompt").Add(float64(answer.PromptTokens))
	metrics.TokensTotal.WithLabelValues("completion").Add(float64(answer.CompletionTokens))

	result.Followups = e.followups(ctx, tracer, req.Query, answer.Text)
	result.LatencyMS = int(time.Since(start).Milliseconds())

	for _, stage := range result.Degraded {
		metrics.DegradedTotal.WithLabelValues(stage).Inc()
	}

	e.record(ctx, req, result, len(dense), len(lexical), len(used))

	logger.Info("query answered",
		zap.String("query_id", result.ID),
		zap.Int("dense", len(dense)),
		zap.Int("lexical", len(lexical)),
		zap.Int("used", len(used)),
		zap.String("tool", toolName),
		zap.Strings("degraded", result.Degraded),
		zap.Int("latency_ms", result.LatencyMS),
	)
	return result, nil
}

func (e *Engine) plan(ctx context.Context, tracer trace.Tracer, query string, result *Result) []string {
	if !e.opts.Features.Planning || e.planner == nil {
		return []string{query}
	}

	ctx, span := tracer.Start(ctx, "query.plan")
	defer span.End()
	timer := stageTimer("plan")
	defer timer()

	queries := e.planner.Plan(ctx, query)
	if len(queries) > e.opts.MaxFanOut {
		queries = queries[:e.opts.MaxFanOut]
	}
	if len(queries) == 0 {
		queries = []string{query}
	}
	span.SetAttributes(attribute.Int("plan.queries", len(queries)))
	if len(queries) > 1 || queries[0] != query {
		result.Plan = queries
	}
	return queries
}

// retrieve fans every planned query out to both methods concurrently. A
// method is degraded only when every sub-query against it fails; the request
// fails only when both methods are down.
func (e *Engine) retrieve(ctx context.Context, tracer trace.Tracer, queries []string, k int, result *Result) ([]retrieval.Candidate, []retrieval.Candidate, error) {
	var dense, lexical []retrieval.Candidate
	var denseErr, lexicalErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dense, denseErr = e.retrieveMethod(gctx, tracer, e.dense, "retrieve.dense", queries, k)
		return nil
	})
	g.Go(func() error {
		lexical, lexicalErr = e.retrieveMethod(gctx, tracer, e.lexical, "retrieve.lexical", queries, k)
		return nil
	})
	g.Wait()

	metrics.RetrievedCount.WithLabelValues(string(retrieval.MethodDense)).Observe(float64(len(dense)))
	metrics.RetrievedCount.WithLabelValues(string(retrieval.MethodLexical)).Observe(float64(len(lexical)))

	if denseErr != nil && lexicalErr != nil {
		metrics.ErrorsTotal.WithLabelValues("retrieve").Inc()
		return nil, nil, fmt.Errorf("%w: dense: %v; lexical: %v",
			retrieval.ErrUnavailable, denseErr, lexicalErr)
	}
	if denseErr != nil {
		result.Degraded = append(result.Degraded, "dense")
		logger.Warn("dense retrieval degraded", zap.Error(denseErr))
	}
	if lexicalErr != nil {
		result.Degraded = append(result.Degraded, "lexical")
		logger.Warn("lexical retrieval degraded", zap.Error(lexicalErr))
	}
	return dense, lexical, nil
}

func (e *Engine) retrieveMethod(ctx context.Context, tracer trace.Tracer, r Retriever, spanName string, queries []string, k int) ([]retrieval.Candidate, error) {
	if r == nil {
		return nil, errors.New("retriever not configured")
	}

	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()
	timer := stageTimer(strings.TrimPrefix(spanName, "retrieve."))
	defer timer()

	byChunk := make(map[string]retrieval.Candidate)
	var order []string
	var errs []error
	for _, q := range queries {
		cands, err := r.Retrieve(ctx, q, k)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, cand := range cands {
			if prev, ok := byChunk[cand.ChunkID]; ok {
				if cand.Score > prev.Score {
					byChunk[cand.ChunkID] = cand
				}
				continue
			}
			byChunk[cand.ChunkID] = cand
			order = append(order, cand.ChunkID)
		}
	}
	if len(errs) == len(queries) {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "all sub-queries failed")
		return nil, err
	}

	merged := make([]retrieval.Candidate, 0, len(order))
	for _, id := range order {
		merged = append(merged, byChunk[id])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ChunkID < merged[j].ChunkID
	})
	span.SetAttributes(attribute.Int("candidates", len(merged)))
	return merged, nil
}

func (e *Engine) fuse(ctx context.Context, tracer trace.Tracer, dense, lexical []retrieval.Candidate) []retrieval.Candidate {
	_, span := tracer.Start(ctx, "fuse")
	defer span.End()
	timer := stageTimer("fuse")
	defer timer()

	fused := e.fuser.Fuse(dense, lexical)
	metrics.FusedCount.Observe(float64(len(fused)))
	span.SetAttributes(attribute.Int("candidates", len(fused)))
	return fused
}

func (e *Engine) rerank(ctx context.Context, tracer trace.Tracer, query string, fused []retrieval.Candidate, result *Result) []retrieval.Candidate {
	if e.reranker == nil || len(fused) == 0 {
		return fused
	}

	ctx, span := tracer.Start(ctx, "rerank")
	defer span.End()
	timer := stageTimer("rerank")
	defer timer()

	ranked, err := e.reranker.Rerank(ctx, query, fused)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rerank failed")
		span.SetAttributes(
			attribute.Bool("degraded", true),
			attribute.String("fallback", "fused_order"),
		)
		result.Degraded = append(result.Degraded, "rerank")
		logger.Warn("rerank degraded, keeping fused order", zap.Error(err))
		return fused
	}
	return ranked
}

func (e *Engine) assemble(ctx context.Context, tracer trace.Tracer, ranked []retrieval.Candidate) (string, []retrieval.Candidate) {
	_, span := tracer.Start(ctx, "context.build")
	defer span.End()
	timer := stageTimer("context_build")
	defer timer()

	contextText, used := contextbuild.Assemble(ranked, e.opts.MaxContextTokens)
	metrics.UsedCount.Observe(float64(len(used)))
	metrics.ContextLength.Observe(float64(len(contextText)))
	span.SetAttributes(
		attribute.Int("chunks.used", len(used)),
		attribute.Int("context.chars", len(contextText)),
	)
	return contextText, used
}

func (e *Engine) dispatchTool(ctx context.Context, tracer trace.Tracer, query, contextText string, used []retrieval.Candidate, result *Result) (string, string) {
	if !e.opts.Features.ToolRouter || e.tools == nil {
		return "", ""
	}

	ctx, span := tracer.Start(ctx, "tool.dispatch")
	defer span.End()
	timer := stageTimer("tool")
	defer timer()

	name := e.tools.Route(ctx, query, contextText)
	if name == "" {
		return "", ""
	}
	span.SetAttributes(attribute.String("tool", name))

	output, err := e.tools.Run(ctx, name, query, contextText, used)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool execution failed")
		metrics.ToolInvocations.WithLabelValues(name, "error").Inc()
		result.Degraded = append(result.Degraded, "tool")
		logger.Warn("tool failed, generating without tool output",
			zap.String("tool", name), zap.Error(err))
		return "", ""
	}
	metrics.ToolInvocations.WithLabelValues(name, "ok").Inc()
	return name, output
}

func (e *Engine) generate(ctx context.Context, tracer trace.Tracer, query, contextText, toolName, toolOutput string) (generation.Answer, error) {
	ctx, span := tracer.Start(ctx, "generate")
	defer span.End()
	timer := stageTimer("generate")
	defer timer()

	answer, err := e.generator.Generate(ctx, query, contextText, toolName, toolOutput)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
	}
	return answer, err
}

func (e *Engine) followups(ctx context.Context, tracer trace.Tracer, query, answer string) []string {
	if !e.opts.Features.Followups || e.suggester == nil {
		return nil
	}

	ctx, span := tracer.Start(ctx, "followups")
	defer span.End()
	timer := stageTimer("followups")
	defer timer()

	return e.suggester.Suggest(ctx, query, answer)
}

func (e *Engine) record(ctx context.Context, req Request, result *Result, denseCount, lexicalCount, usedCount int) {
	if e.history == nil {
		return
	}
	record := models.QueryRecord{
		ID:               result.ID,
		Identity:         req.Identity,
		QueryText:        req.Query,
		Answer:           result.Answer,
		UsedTool:         result.UsedTool,
		DenseCount:       denseCount,
		LexicalCount:     lexicalCount,
		UsedCount:        usedCount,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		Degraded:         strings.Join(result.Degraded, ","),
		LatencyMS:        result.LatencyMS,
		CreatedAt:        time.Now().UTC(),
	}
	if err := e.history.InsertQueryRecord(ctx, &record); err != nil {
		logger.Warn("query history write failed", zap.Error(err))
	}
}

func citations(used []retrieval.Candidate) []Citation {
	cites := make([]Citation, 0, len(used))
	for _, cand := range used {
		cites = append(cites, Citation{
			ChunkID:    cand.ChunkID,
			DocumentID: cand.DocumentID,
			Ref:        cand.Ref(),
		})
	}
	return cites
}

func stageTimer(stage string) func() {
	start := time.Now()
	return func() {
		metrics.StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
