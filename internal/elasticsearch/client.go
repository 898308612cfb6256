package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"smartbuilding/internal/config"
	"smartbuilding/internal/telemetry"
)

// ErrDisabled is returned by queries on a nil client.
var ErrDisabled = errors.New("elasticsearch disabled")

type Client struct {
	es     *elasticsearch.Client
	config config.ElasticsearchConfig
	log    *zap.Logger
}

func NewClient(cfg config.ElasticsearchConfig, log *zap.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = time.Duration(cfg.Timeout) * time.Second

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	// 测试连接
	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned error: %s", res.String())
	}

	c := newClient(es, cfg, log)
	c.log.Info("Elasticsearch client initialized", zap.Strings("addresses", cfg.Addresses))
	return c, nil
}

func newClient(es *elasticsearch.Client, cfg config.ElasticsearchConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{es: es, config: cfg, log: log}
}

func (c *Client) eventIndices() []string {
	return []string{c.config.SensorsIndex, c.config.AlertsIndex}
}

// Ping is used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.es == nil {
		return ErrDisabled
	}
	res, err := esapi.PingRequest{}.Do(ctx, c.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: %s", res.Status())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Index  string          `json:"_index"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

func (c *Client) search(ctx context.Context, indices []string, query map[string]any) (*searchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	ignoreUnavailable := true
	req := esapi.SearchRequest{
		Index:             indices,
		Body:              bytes.NewReader(body),
		IgnoreUnavailable: &ignoreUnavailable,
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", strings.Join(indices, ","), err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.String())
	}

	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return &out, nil
}

func decodeEvents(resp *searchResponse) ([]telemetry.Event, error) {
	events := make([]telemetry.Event, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		dec := json.NewDecoder(bytes.NewReader(hit.Source))
		dec.UseNumber()
		var e telemetry.Event
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		e[telemetry.KeyIndex] = hit.Index
		events = append(events, e)
	}
	return events, nil
}

func sinceQuery(since time.Time) map[string]any {
	return map[string]any{
		"range": map[string]any{
			"@timestamp": map[string]any{"gte": since.UTC().Format(time.RFC3339Nano)},
		},
	}
}

var newestFirst = []map[string]any{
	{"@timestamp": map[string]any{"order": "desc"}},
}

// Recent returns sensor and alert documents newer than since, newest first.
func (c *Client) Recent(ctx context.Context, since time.Time, size int) ([]telemetry.Event, error) {
	if c == nil || c.es == nil {
		return nil, ErrDisabled
	}
	resp, err := c.search(ctx, c.eventIndices(), map[string]any{
		"query": sinceQuery(since),
		"sort":  newestFirst,
		"size":  size,
	})
	if err != nil {
		return nil, err
	}
	return decodeEvents(resp)
}

// StandardAlerts returns critical and high alert documents newer than since.
func (c *Client) StandardAlerts(ctx context.Context, since time.Time, size int) ([]telemetry.Event, error) {
	if c == nil || c.es == nil {
		return nil, ErrDisabled
	}
	resp, err := c.search(ctx, []string{c.config.AlertsIndex}, map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []map[string]any{
					sinceQuery(since),
					{"terms": map[string]any{"severity": []string{"critical", "high"}}},
				},
			},
		},
		"sort": newestFirst,
		"size": size,
	})
	if err != nil {
		return nil, err
	}
	return decodeEvents(resp)
}

func (c *Client) count(ctx context.Context, indices []string, query map[string]any) (int64, error) {
	req := esapi.CountRequest{Index: indices}
	if query != nil {
		body, err := json.Marshal(map[string]any{"query": query})
		if err != nil {
			return 0, err
		}
		req.Body = bytes.NewReader(body)
	}
	ignoreUnavailable := true
	req.IgnoreUnavailable = &ignoreUnavailable

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", strings.Join(indices, ","), err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("elasticsearch count error: %s", res.String())
	}

	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to parse count response: %w", err)
	}
	return out.Count, nil
}

var errorsQuery = map[string]any{
	"bool": map[string]any{
		"should": []map[string]any{
			{"term": map[string]any{"status": "warning"}},
			{"term": map[string]any{"status": "error"}},
			{"term": map[string]any{"severity": "critical"}},
			{"term": map[string]any{"severity": "high"}},
			{"term": map[string]any{"tags": "anomaly"}},
		},
		"minimum_should_match": 1,
	},
}

// DashboardStats computes the aggregate pushed to dashboard clients.
func (c *Client) DashboardStats(ctx context.Context, now time.Time) (*telemetry.DashboardStats, error) {
	if c == nil || c.es == nil {
		return nil, ErrDisabled
	}
	stats := telemetry.EmptyStats(now)
	indices := c.eventIndices()

	var err error
	if stats.TotalLogs, err = c.count(ctx, indices, nil); err != nil {
		return nil, err
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if stats.LogsToday, err = c.count(ctx, indices, sinceQuery(midnight)); err != nil {
		return nil, err
	}
	if stats.ErrorsCount, err = c.count(ctx, indices, errorsQuery); err != nil {
		return nil, err
	}

	sensors, err := c.search(ctx, []string{c.config.SensorsIndex}, map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"unique_sensors": map[string]any{"cardinality": map[string]any{"field": "sensor_id"}},
		},
	})
	if err != nil {
		return nil, err
	}
	var cardinality struct {
		Value int64 `json:"value"`
	}
	if raw, ok := sensors.Aggregations["unique_sensors"]; ok {
		if err := json.Unmarshal(raw, &cardinality); err != nil {
			return nil, fmt.Errorf("failed to parse sensors aggregation: %w", err)
		}
	}
	stats.SensorsActive = cardinality.Value

	zones, err := c.search(ctx, indices, map[string]any{
		"size":  0,
		"query": sinceQuery(now.Add(-5 * time.Minute)),
		"aggs": map[string]any{
			"zones": map[string]any{"terms": map[string]any{"field": "zone", "size": 20}},
		},
	})
	if err != nil {
		return nil, err
	}
	var terms struct {
		Buckets []struct {
			Key      string `json:"key"`
			DocCount int64  `json:"doc_count"`
		} `json:"buckets"`
	}
	if raw, ok := zones.Aggregations["zones"]; ok {
		if err := json.Unmarshal(raw, &terms); err != nil {
			return nil, fmt.Errorf("failed to parse zones aggregation: %w", err)
		}
	}
	for _, b := range terms.Buckets {
		stats.ZonesActivity[b.Key] = b.DocCount
	}

	return stats, nil
}

// TriggerIndex returns the daily index a trigger at t is written to.
func (c *Client) TriggerIndex(t time.Time) string {
	return fmt.Sprintf("%s-%s", c.config.TriggerIndexPrefix, t.UTC().Format("2006.01.02"))
}

// IndexTrigger stores a rule trigger document for Kibana.
func (c *Client) IndexTrigger(ctx context.Context, id string, at time.Time, doc any) error {
	if c == nil || c.es == nil {
		return nil // ES 未启用，跳过
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.TriggerIndex(at),
		DocumentID: id,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("failed to index trigger: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch indexing error: %s", res.String())
	}

	c.log.Debug("trigger indexed", zap.String("index", c.TriggerIndex(at)), zap.String("trigger_id", id))
	return nil
}

// CreateIndexTemplate 创建规则触发记录的索引模板
func (c *Client) CreateIndexTemplate(ctx context.Context) error {
	if c == nil || c.es == nil {
		return nil
	}

	templateName := fmt.Sprintf("%s-template", c.config.TriggerIndexPrefix)
	keyword := map[string]string{"type": "keyword"}

	template := map[string]any{
		"index_patterns": []string{fmt.Sprintf("%s-*", c.config.TriggerIndexPrefix)},
		"template": map[string]any{
			"settings": map[string]any{
				"number_of_shards":   1,
				"number_of_replicas": 1,
				"refresh_interval":   "5s",
			},
			"mappings": map[string]any{
				"properties": map[string]any{
					"@timestamp":     map[string]string{"type": "date"},
					"timestamp":      map[string]string{"type": "date"},
					"trigger_id":     keyword,
					"rule_id":        map[string]string{"type": "long"},
					"rule_name":      keyword,
					"severity":       keyword,
					"zone":           keyword,
					"zones_affected": keyword,
					"sensor_id":      keyword,
					"source":         keyword,
					"message":        map[string]string{"type": "text"},
					"value":          map[string]string{"type": "double"},
					"matching_count": map[string]string{"type": "integer"},
				},
			},
		},
	}

	body, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to marshal index template: %w", err)
	}

	req := esapi.IndicesPutIndexTemplateRequest{
		Name: templateName,
		Body: bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		c.log.Warn("failed to create index template", zap.String("template", templateName), zap.ByteString("response", msg))
		return nil
	}
	c.log.Info("index template created", zap.String("template", templateName))
	return nil
}
