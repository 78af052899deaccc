// Package restdb is the REST vector store adapter: same capability set as
// the structured-RPC adapter, over JSON bodies with camelCase keys and an
// envelope response shape, against a Milvus-compatible REST API surface.
package restdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codeindex-dev/codeindex/internal/errs"
	"github.com/codeindex-dev/codeindex/internal/logging"
	"github.com/codeindex-dev/codeindex/internal/vectorstore"
)

// Config configures the REST vector store adapter.
type Config struct {
	BaseURL  string
	Database string

	// Auth. Token wins over Username/Password when both are set.
	Token    string
	Username string
	Password string

	RequestTimeout time.Duration

	IndexBuildPollInterval time.Duration
	IndexBuildTimeout      time.Duration

	DenseMetricType  string
	DenseIndexType   string
	SparseMetricType string
	SparseIndexType  string
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.IndexBuildPollInterval == 0 {
		c.IndexBuildPollInterval = 200 * time.Millisecond
	}
	if c.IndexBuildTimeout == 0 {
		c.IndexBuildTimeout = 60 * time.Second
	}
	if c.DenseMetricType == "" {
		c.DenseMetricType = "COSINE"
	}
	if c.DenseIndexType == "" {
		c.DenseIndexType = "HNSW"
	}
	if c.SparseMetricType == "" {
		c.SparseMetricType = "IP"
	}
	if c.SparseIndexType == "" {
		c.SparseIndexType = "SPARSE_INVERTED_INDEX"
	}
}

// buildAuthHeader computes the single authorization header value shared by
// every request, token auth taking priority over basic auth.
func buildAuthHeader(token, username, password string) string {
	if token != "" {
		return "Bearer " + token
	}
	if username != "" {
		return "Basic " + basicAuthValue(username, password)
	}
	return ""
}

func basicAuthValue(username, password string) string {
	req := &http.Request{Header: http.Header{}}
	req.SetBasicAuth(username, password)
	return strings.TrimPrefix(req.Header.Get("Authorization"), "Basic ")
}

// Client implements vectorstore.Store against a Milvus-compatible REST API.
type Client struct {
	config     Config
	httpClient *http.Client
	baseURL    string
	authHeader string
	logger     *logging.Logger
}

// New builds a REST adapter; it performs no network calls until first use.
func New(cfg Config, logger *logging.Logger) (*Client, error) {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		return nil, errs.New(errs.KindInvalidInput, "restdb.config", "base URL is required")
	}
	if logger == nil {
		l, err := logging.NewLogger(logging.NewDefaultConfig())
		if err != nil {
			return nil, errs.Wrap(errs.KindInvariant, "restdb.config", "failed to build default logger", err)
		}
		logger = l
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/") + "/v2/vectordb",
		authHeader: buildAuthHeader(cfg.Token, cfg.Username, cfg.Password),
		logger:     logger,
	}, nil
}

// envelope is the `{code, message?, data?}` shape every response follows.
type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data,omitempty"`
}

func (c *Client) post(ctx context.Context, endpoint, operation string, body any, out any) error {
	if err := ctx.Err(); err != nil {
		return errs.Cancelled(operation)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return errs.Wrap(errs.KindInvalidInput, "restdb."+operation, "failed to marshal request body", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return errs.Wrap(errs.KindInvalidInput, "restdb."+operation, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authHeader != "" {
		httpReq.Header.Set("Authorization", c.authHeader)
	}
	if c.config.Database != "" {
		httpReq.Header.Set("X-Database", c.config.Database)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return errs.Cancelled(operation)
		}
		if reqCtx.Err() != nil {
			return errs.Wrap(errs.KindTimeout, "restdb."+operation, "request timed out", err)
		}
		return errs.Wrap(errs.KindUnavailable, "restdb."+operation, "request transport failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.KindIO, "restdb."+operation, "failed to read response body", err)
	}

	if resp.StatusCode >= 400 {
		return classifyHTTPError(operation, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return errs.Wrap(errs.KindInvalidResponse, "restdb."+operation, "failed to decode response envelope", err)
	}
	return nil
}

func classifyHTTPError(operation string, status int, body string) error {
	msg := fmt.Sprintf("http %d: %s", status, body)
	switch {
	case status == http.StatusNotFound:
		return errs.New(errs.KindNotFound, "restdb."+operation, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return errs.New(errs.KindInvalidInput, "restdb."+operation, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.New(errs.KindInvalidInput, "restdb."+operation, msg)
	case status == http.StatusTooManyRequests:
		return errs.New(errs.KindRateLimited, "restdb."+operation, msg)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return errs.New(errs.KindTimeout, "restdb."+operation, msg)
	default:
		return errs.New(errs.KindUnavailable, "restdb."+operation, msg)
	}
}

// envelopeError maps a non-zero `code` inside a successfully-decoded
// envelope to the shared error taxonomy (distinct from a transport-level
// non-2xx status, per the REST adapter's `{code,message?,data?}` contract).
func envelopeError(operation string, code int, message string) error {
	if message == "" {
		message = "request rejected"
	}
	return errs.New(errs.KindInvalidInput, "restdb."+operation, message).WithMetadata("code", fmt.Sprintf("%d", code))
}

const sparseFieldName = "sparse_vector"

func (c *Client) ensureLoaded(ctx context.Context, collection string) error {
	var loadState envelope[struct {
		LoadState string `json:"loadState"`
	}]
	body := map[string]any{"collectionName": collection, "dbName": c.config.Database}
	if err := c.post(ctx, "/collections/get_load_state", "ensure_loaded", body, &loadState); err != nil {
		return err
	}
	if loadState.Code != 0 {
		return envelopeError("ensure_loaded", loadState.Code, loadState.Message)
	}
	if loadState.Data.LoadState == "LoadStateLoaded" {
		return nil
	}

	var loadResp envelope[map[string]any]
	if err := c.post(ctx, "/collections/load", "load_collection", body, &loadResp); err != nil {
		return err
	}
	if loadResp.Code != 0 {
		return envelopeError("load_collection", loadResp.Code, loadResp.Message)
	}
	return nil
}

func indexParams(metricType, indexType, fieldName, indexName string) map[string]any {
	return map[string]any{
		"fieldName": fieldName,
		"indexName": indexName,
		"metricType": metricType,
		"index_type": indexType,
		"params":     map[string]any{},
	}
}

func (c *Client) createIndex(ctx context.Context, collection string, params []map[string]any) error {
	body := map[string]any{
		"collectionName": collection,
		"dbName":         c.config.Database,
		"indexParams":    params,
	}
	var resp envelope[map[string]any]
	if err := c.post(ctx, "/indexes/create", "create_index", body, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return envelopeError("create_index", resp.Code, resp.Message)
	}
	return nil
}

func fieldSchema(name, fieldType string, isPrimary bool, extra map[string]any) map[string]any {
	f := map[string]any{"fieldName": name, "dataType": fieldType}
	if isPrimary {
		f["isPrimary"] = true
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

func (c *Client) createCollection(ctx context.Context, name string, dimension int, hybrid bool) error {
	if name == "" || dimension <= 0 {
		return errs.New(errs.KindInvalidInput, "restdb.create_collection", "collection name and positive dimension are required")
	}

	fields := []map[string]any{
		fieldSchema("id", "VarChar", true, map[string]any{"max_length": 256}),
		fieldSchema("content", "VarChar", false, map[string]any{"max_length": 65535}),
		fieldSchema("relativePath", "VarChar", false, map[string]any{"max_length": 4096}),
		fieldSchema("fileExtension", "VarChar", false, map[string]any{"max_length": 64}),
		fieldSchema("language", "VarChar", false, map[string]any{"max_length": 64}),
		fieldSchema("startLine", "Int64", false, nil),
		fieldSchema("endLine", "Int64", false, nil),
		fieldSchema("vector", "FloatVector", false, map[string]any{"dim": dimension}),
	}
	if hybrid {
		fields = append(fields, fieldSchema(sparseFieldName, "SparseFloatVector", false, nil))
	}

	body := map[string]any{
		"collectionName": name,
		"dbName":         c.config.Database,
		"schema": map[string]any{
			"enableDynamicField": false,
			"fields":             fields,
		},
	}
	var resp envelope[map[string]any]
	if err := c.post(ctx, "/collections/create", "create_collection", body, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return envelopeError("create_collection", resp.Code, resp.Message)
	}

	if hybrid {
		if err := c.createIndex(ctx, name, []map[string]any{indexParams(c.config.DenseMetricType, c.config.DenseIndexType, "vector", "vector_index")}); err != nil {
			return err
		}
		if err := c.createIndex(ctx, name, []map[string]any{indexParams(c.config.SparseMetricType, c.config.SparseIndexType, sparseFieldName, "sparse_vector_index")}); err != nil {
			return err
		}
	} else {
		if err := c.createIndex(ctx, name, []map[string]any{indexParams(c.config.DenseMetricType, c.config.DenseIndexType, "vector", "vector_index")}); err != nil {
			return err
		}
	}

	return c.ensureLoaded(ctx, name)
}

func (c *Client) CreateCollection(ctx context.Context, name string, dimension int, description string) error {
	return c.createCollection(ctx, name, dimension, false)
}

func (c *Client) CreateHybridCollection(ctx context.Context, name string, dimension int, description string) error {
	return c.createCollection(ctx, name, dimension, true)
}

func (c *Client) DropCollection(ctx context.Context, name string) error {
	body := map[string]any{"collectionName": name, "dbName": c.config.Database}
	var resp envelope[map[string]any]
	if err := c.post(ctx, "/collections/drop", "drop_collection", body, &resp); err != nil {
		if errs.KindOf(err) == errs.KindNotFound {
			return nil
		}
		return err
	}
	if resp.Code != 0 && resp.Code != 100 { // Milvus returns a not-found-ish code for unknown collections on drop
		return envelopeError("drop_collection", resp.Code, resp.Message)
	}
	return nil
}

func (c *Client) HasCollection(ctx context.Context, name string) (bool, error) {
	body := map[string]any{"collectionName": name, "dbName": c.config.Database}
	var resp envelope[map[string]any]
	if err := c.post(ctx, "/collections/has", "has_collection", body, &resp); err != nil {
		return false, err
	}
	if resp.Code != 0 {
		return false, envelopeError("has_collection", resp.Code, resp.Message)
	}
	exists, _ := resp.Data["value"].(bool)
	return exists, nil
}

func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	body := map[string]any{"dbName": c.config.Database}
	var resp envelope[struct {
		CollectionNames []string `json:"collectionNames"`
	}]
	if err := c.post(ctx, "/collections/list", "list_collections", body, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, envelopeError("list_collections", resp.Code, resp.Message)
	}
	return resp.Data.CollectionNames, nil
}

func docRow(d vectorstore.VectorDocument) map[string]any {
	return map[string]any{
		"id":            d.ID,
		"content":       d.Content,
		"vector":        d.Vector,
		"relativePath":  d.Metadata.RelativePath,
		"startLine":     d.Metadata.SpanStart,
		"endLine":       d.Metadata.SpanEnd,
		"fileExtension": d.Metadata.FileExtension,
		"language":      d.Metadata.Language,
	}
}

func (c *Client) insert(ctx context.Context, name string, docs []vectorstore.VectorDocument) error {
	if err := c.ensureLoaded(ctx, name); err != nil {
		return err
	}
	data := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		data = append(data, docRow(d))
	}
	body := map[string]any{
		"collectionName": name,
		"dbName":         c.config.Database,
		"data":           data,
	}
	var resp envelope[map[string]any]
	if err := c.post(ctx, "/entities/insert", "insert", body, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return envelopeError("insert", resp.Code, resp.Message)
	}
	return nil
}

func (c *Client) Insert(ctx context.Context, name string, docs []vectorstore.VectorDocument) error {
	return c.insert(ctx, name, docs)
}

func (c *Client) InsertHybrid(ctx context.Context, name string, docs []vectorstore.VectorDocument) error {
	return c.insert(ctx, name, docs)
}

type restRow struct {
	ID            string  `json:"id"`
	Content       string  `json:"content"`
	RelativePath  string  `json:"relativePath"`
	StartLine     int     `json:"startLine"`
	EndLine       int     `json:"endLine"`
	FileExtension string  `json:"fileExtension"`
	Language      string  `json:"language"`
	Score         float32 `json:"score"`
}

func rowToResult(row restRow) vectorstore.SearchResult {
	return vectorstore.SearchResult{
		ID:      row.ID,
		Score:   row.Score,
		Content: row.Content,
		Metadata: vectorstore.Metadata{
			RelativePath:  row.RelativePath,
			FileExtension: row.FileExtension,
			Language:      row.Language,
			SpanStart:     row.StartLine,
			SpanEnd:       row.EndLine,
		},
	}
}

func (c *Client) Search(ctx context.Context, name string, queryVector []float32, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error) {
	if err := ensureValidFilter(opts.FilterExpr); err != nil {
		return nil, err
	}
	if err := c.ensureLoaded(ctx, name); err != nil {
		return nil, err
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}

	body := map[string]any{
		"collectionName": name,
		"dbName":         c.config.Database,
		"searchParams": map[string]any{
			"metricType": c.config.DenseMetricType,
			"params":     map[string]any{"nprobe": 10},
		},
		"limit":        topK,
		"outputFields": []string{"id", "content", "relativePath", "startLine", "endLine", "fileExtension", "language"},
		"data":         [][]float32{queryVector},
	}
	if opts.FilterExpr != "" {
		body["filter"] = opts.FilterExpr
	}

	var resp envelope[struct {
		Data []restRow `json:"data"`
	}]
	if err := c.post(ctx, "/entities/search", "search", body, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, envelopeError("search", resp.Code, resp.Message)
	}

	results := make([]vectorstore.SearchResult, 0, len(resp.Data.Data))
	for _, row := range resp.Data.Data {
		if opts.Threshold != nil && row.Score < *opts.Threshold {
			continue
		}
		results = append(results, rowToResult(row))
	}
	return results, nil
}

func ensureValidFilter(expr string) error {
	_, err := vectorstore.ParseFilter(expr)
	return err
}

// HybridSearch mirrors build_hybrid_search_body: one subrequest entry per
// dense/sparse query, a shared top-level limit/outputFields/filter, posted
// to /entities/hybrid_search. The server performs the fusion; the port's
// own rerank weights are not applied remotely, matching the spec's note
// that hybrid_search options are adapter-interpreted.
func (c *Client) HybridSearch(ctx context.Context, name string, subrequests []vectorstore.HybridSubrequest, opts vectorstore.HybridOptions) ([]vectorstore.SearchResult, error) {
	if len(subrequests) < 2 {
		return nil, errs.New(errs.KindInvalidInput, "restdb.hybrid_search", "hybrid search requires dense and sparse subrequests")
	}
	if err := ensureValidFilter(opts.FilterExpr); err != nil {
		return nil, err
	}
	if err := c.ensureLoaded(ctx, name); err != nil {
		return nil, err
	}

	searchParams := make([]map[string]any, 0, len(subrequests))
	for _, sub := range subrequests {
		var data any
		metricType := c.config.DenseMetricType
		if len(sub.QueryVector) > 0 {
			data = [][]float32{sub.QueryVector}
		} else {
			data = []string{sub.QueryText}
			metricType = c.config.SparseMetricType
		}
		limit := sub.Limit
		if limit <= 0 {
			limit = opts.Limit
		}
		searchParams = append(searchParams, map[string]any{
			"annsField": sub.AnnsField,
			"limit":     limit,
			"data":      data,
			"searchParams": map[string]any{
				"metricType": metricType,
				"params":     sub.Params,
			},
		})
	}

	body := map[string]any{
		"collectionName": name,
		"dbName":         c.config.Database,
		"search":         searchParams,
		"limit":          opts.Limit,
		"outputFields":   []string{"id", "content", "relativePath", "startLine", "endLine", "fileExtension", "language"},
	}
	if opts.FilterExpr != "" {
		body["filter"] = opts.FilterExpr
	}

	var resp envelope[struct {
		Data []restRow `json:"data"`
	}]
	if err := c.post(ctx, "/entities/hybrid_search", "hybrid_search", body, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, envelopeError("hybrid_search", resp.Code, resp.Message)
	}

	results := make([]vectorstore.SearchResult, 0, len(resp.Data.Data))
	for _, row := range resp.Data.Data {
		results = append(results, rowToResult(row))
	}
	return results, nil
}

// idInFilter builds a safe `id in [...]` expression, quoting each id rather
// than interpolating a caller-controlled string verbatim.
func idInFilter(field string, ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = `"` + strings.ReplaceAll(id, `"`, `\"`) + `"`
	}
	return field + " in [" + strings.Join(quoted, ", ") + "]"
}

func (c *Client) Delete(ctx context.Context, name string, ids []string) error {
	if err := c.ensureLoaded(ctx, name); err != nil {
		return err
	}
	body := map[string]any{
		"collectionName": name,
		"dbName":         c.config.Database,
		"filter":         idInFilter("id", ids),
	}
	var resp envelope[map[string]any]
	if err := c.post(ctx, "/entities/delete", "delete", body, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return envelopeError("delete", resp.Code, resp.Message)
	}
	return nil
}

func (c *Client) Query(ctx context.Context, name string, filterExpr string, outputFields []string, limit int) ([]vectorstore.QueryRow, error) {
	if err := ensureValidFilter(filterExpr); err != nil {
		return nil, err
	}
	if err := c.ensureLoaded(ctx, name); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if len(outputFields) == 0 {
		outputFields = []string{"id", "content", "relativePath", "fileExtension", "language"}
	}

	body := map[string]any{
		"collectionName": name,
		"dbName":         c.config.Database,
		"filter":         filterExpr,
		"outputFields":   outputFields,
		"limit":          limit,
	}
	var resp envelope[struct {
		Data []map[string]any `json:"data"`
	}]
	if err := c.post(ctx, "/entities/query", "query", body, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, envelopeError("query", resp.Code, resp.Message)
	}

	rows := make([]vectorstore.QueryRow, 0, len(resp.Data.Data))
	for _, raw := range resp.Data.Data {
		row := make(vectorstore.QueryRow, len(raw))
		for k, v := range raw {
			row[k] = fmt.Sprintf("%v", v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

var _ vectorstore.Store = (*Client)(nil)
