package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/resilience"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "text"

	// Hybrid weights; both branches are bounded by 1 so the sum is too.
	denseWeight  = 0.7
	sparseWeight = 0.3
)

var classifyQdrantError = resilience.HTTPClassifier(resilience.TransientStatus)

// Client is a KnowledgeIndex backed by one Qdrant collection holding a dense and a
// sparse named vector per question/answer record.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) {
		c.executor = executor
	}
}

func New(baseURL, collection string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type point struct {
	ID      string         `json:"id"`
	Vector  map[string]any `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) Upsert(ctx context.Context, records []domain.KnowledgeRecord, vectors [][]float32) error {
	if len(records) == 0 {
		return nil
	}
	if len(records) != len(vectors) {
		return fmt.Errorf("records/vectors mismatch: %d records, %d vectors", len(records), len(vectors))
	}
	if err := c.EnsureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	points := make([]point, 0, len(records))
	for i, rec := range records {
		points = append(points, point{
			ID: rec.ID,
			Vector: map[string]any{
				denseVectorName:  vectors[i],
				sparseVectorName: encodeSparseDocument(rec.Question, rec.Answer),
			},
			Payload: map[string]any{
				"lang":       string(rec.Language),
				"question":   rec.Question,
				"answer":     rec.Answer,
				"meta":       rec.Meta,
				"source":     rec.Source,
				"created_at": rec.CreatedAt.UTC().Format(time.RFC3339),
			},
		})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", c.collection)
	return c.call(ctx, "upsert", http.MethodPut, path, map[string]any{"points": points}, nil)
}

// Retrieve runs the dense and sparse branches in one batch request, restricted to the
// request language, and merges them by point id.
func (c *Client) Retrieve(ctx context.Context, req domain.RetrievalRequest) ([]domain.RetrievedHit, error) {
	if len(req.Vector) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "qdrant retrieve", fmt.Errorf("query vector is empty"))
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 3
	}
	filter := languageFilter(req.Language)

	searches := []map[string]any{branchQuery(req.Vector, denseVectorName, limit*2, filter)}
	if sparse := encodeSparseQuery(req.Text); len(sparse.Indices) > 0 {
		searches = append(searches, branchQuery(sparse, sparseVectorName, limit*2, filter))
	}

	var batch struct {
		Result []struct {
			Points []queryPoint `json:"points"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/query/batch", c.collection)
	if err := c.call(ctx, "query", http.MethodPost, path, map[string]any{"searches": searches}, &batch); err != nil {
		return nil, err
	}

	var dense, sparse []queryPoint
	if len(batch.Result) > 0 {
		dense = batch.Result[0].Points
	}
	if len(batch.Result) > 1 {
		sparse = batch.Result[1].Points
	}
	return mergeHybrid(dense, sparse, limit, req.ScoreThreshold), nil
}

func (c *Client) EnsureCollection(ctx context.Context, vectorSize int) error {
	if vectorSize <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "qdrant ensure collection", fmt.Errorf("vector size must be positive"))
	}
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{
				"size":     vectorSize,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	}
	path := fmt.Sprintf("/collections/%s", c.collection)
	err := c.call(ctx, "ensure_collection", http.MethodPut, path, reqBody, nil)
	if err != nil && !resilience.HasStatus(err, http.StatusConflict) {
		return err
	}

	indexBody := map[string]any{"field_name": "lang", "field_schema": "keyword"}
	indexPath := fmt.Sprintf("/collections/%s/index?wait=true", c.collection)
	if err := c.call(ctx, "ensure_index", http.MethodPut, indexPath, indexBody, nil); err != nil && !resilience.HasStatus(err, http.StatusConflict) {
		return err
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) DropCollection(ctx context.Context) error {
	c.ensureMu.Lock()
	c.ensuredCollection = false
	c.ensuredVectorSize = 0
	c.ensureMu.Unlock()

	path := fmt.Sprintf("/collections/%s", c.collection)
	err := c.call(ctx, "drop_collection", http.MethodDelete, path, nil, nil)
	if resilience.HasStatus(err, http.StatusNotFound) {
		return domain.WrapError(domain.ErrKnowledgeNotFound, "qdrant drop collection", err)
	}
	return err
}

// CountPoints returns the number of stored records, optionally for one language.
func (c *Client) CountPoints(ctx context.Context, lang domain.Language) (int, error) {
	reqBody := map[string]any{"exact": true}
	if filter := languageFilter(lang); filter != nil {
		reqBody["filter"] = filter
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", c.collection)
	if err := c.call(ctx, "count", http.MethodPost, path, reqBody, &resp); err != nil {
		if resilience.HasStatus(err, http.StatusNotFound) {
			return 0, domain.WrapError(domain.ErrKnowledgeNotFound, "qdrant count", err)
		}
		return 0, err
	}
	return resp.Result.Count, nil
}

func (c *Client) call(ctx context.Context, operation, method, path string, payload any, out any) error {
	if c.executor == nil {
		return resilience.WrapTemporary("qdrant "+operation, c.doJSON(ctx, operation, method, path, payload, out), classifyQdrantError)
	}
	err := c.executor.Execute(ctx, "qdrant."+operation, func(callCtx context.Context) error {
		return c.doJSON(callCtx, operation, method, path, payload, out)
	}, classifyQdrantError)
	return resilience.WrapTemporary("qdrant "+operation, err, classifyQdrantError)
}

func (c *Client) doJSON(ctx context.Context, operation, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", operation, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewStatusError("qdrant", operation, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

type queryPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func mergeHybrid(dense, sparse []queryPoint, limit int, threshold float64) []domain.RetrievedHit {
	type merged struct {
		point queryPoint
		score float64
	}
	byID := make(map[string]*merged, len(dense)+len(sparse))
	order := make([]string, 0, len(dense)+len(sparse))
	add := func(points []queryPoint, weight float64) {
		for _, p := range points {
			id := fmt.Sprint(p.ID)
			m, ok := byID[id]
			if !ok {
				m = &merged{point: p}
				byID[id] = m
				order = append(order, id)
			}
			m.score += weight * p.Score
		}
	}
	add(dense, denseWeight)
	add(sparse, sparseWeight)

	out := make([]domain.RetrievedHit, 0, len(order))
	for _, id := range order {
		m := byID[id]
		if threshold > 0 && m.score < threshold {
			continue
		}
		out = append(out, domain.RetrievedHit{
			ID:       id,
			Question: getStringPayload(m.point.Payload, "question"),
			Answer:   getStringPayload(m.point.Payload, "answer"),
			Score:    m.score,
			Meta:     m.point.Payload["meta"],
			Origin:   domain.OriginKnowledgeBase,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func branchQuery(query any, using string, limit int, filter map[string]any) map[string]any {
	out := map[string]any{
		"query":        query,
		"using":        using,
		"limit":        limit,
		"with_payload": true,
	}
	if filter != nil {
		out["filter"] = filter
	}
	return out
}

func languageFilter(lang domain.Language) map[string]any {
	if lang == "" || lang == domain.LangUnknown {
		return nil
	}
	return map[string]any{
		"must": []map[string]any{
			{
				"key": "lang",
				"match": map[string]any{
					"value": string(lang),
				},
			},
		},
	}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
