package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/m-mizutani/goerr/v2"
)

// QdrantClient talks to Qdrant's REST API.
type QdrantClient struct {
	url    string
	client *http.Client
}

// NewQdrantClient uses http.DefaultClient when client is nil.
func NewQdrantClient(baseURL string, client *http.Client) *QdrantClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &QdrantClient{url: baseURL, client: client}
}

// Point is a vector with its payload.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Hit is a single search result.
type Hit struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// EnsureCollection creates a cosine collection unless it already exists.
func (q *QdrantClient) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	payload := map[string]any{"vectors": map[string]any{"size": vectorSize, "distance": "Cosine"}}
	status, _, err := q.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(name), payload)
	if err != nil {
		return err
	}
	// 409: already exists
	if status == http.StatusOK || status == http.StatusConflict {
		return nil
	}
	return goerr.New("create collection status", goerr.V("status", status), goerr.V("collection", name))
}

// Upsert inserts or replaces points, waiting until they are searchable.
func (q *QdrantClient) Upsert(ctx context.Context, collection string, points []Point) error {
	status, _, err := q.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(collection)+"/points?wait=true", map[string]any{"points": points})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return goerr.New("upsert status", goerr.V("status", status), goerr.V("collection", collection))
	}
	return nil
}

// Search returns up to limit nearest neighbours scoring at least threshold.
func (q *QdrantClient) Search(ctx context.Context, collection string, vector []float32, limit int, threshold float64) ([]Hit, error) {
	status, body, err := q.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/search", map[string]any{
		"vector":          vector,
		"limit":           limit,
		"score_threshold": threshold,
		"with_payload":    true,
	})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, goerr.New("search status", goerr.V("status", status), goerr.V("collection", collection))
	}
	var resp struct {
		Result []Hit `json:"result"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return nil, goerr.Wrap(err, "decode search response")
	}
	return resp.Result, nil
}

// PointCount returns the number of points stored in a collection.
func (q *QdrantClient) PointCount(ctx context.Context, collection string) (int, error) {
	status, body, err := q.do(ctx, http.MethodGet, "/collections/"+url.PathEscape(collection), nil)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, goerr.New("collection info status", goerr.V("status", status), goerr.V("collection", collection))
	}
	var resp struct {
		Result struct {
			PointsCount int `json:"points_count"`
		} `json:"result"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return 0, goerr.Wrap(err, "decode collection info")
	}
	return resp.Result.PointsCount, nil
}

func (q *QdrantClient) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, goerr.Wrap(err, "marshal qdrant request")
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.url+path, reader)
	if err != nil {
		return 0, nil, goerr.Wrap(err, "create qdrant request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return 0, nil, goerr.Wrap(err, "qdrant request", goerr.V("method", method), goerr.V("path", path))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, goerr.Wrap(err, "read qdrant response")
	}
	return resp.StatusCode, body, nil
}
