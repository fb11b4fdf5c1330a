package sqlgen

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ziadkadry99/menusql/internal/llm"
)

// Metrics holds monotonic generator counters. They are only reset by
// creating a new Metrics.
type Metrics struct {
	apiCalls     atomic.Int64
	apiErrors    atomic.Int64
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
	latencyNanos atomic.Int64
	retries      atomic.Int64
	generations  atomic.Int64
	successes    atomic.Int64
	failures     atomic.Int64
	costMicroUSD atomic.Int64
}

// NewMetrics returns zeroed counters.
func NewMetrics() *Metrics { return &Metrics{} }

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	APICalls     int64         `json:"api_calls"`
	APIErrors    int64         `json:"api_errors"`
	InputTokens  int64         `json:"input_tokens"`
	OutputTokens int64         `json:"output_tokens"`
	TotalLatency time.Duration `json:"total_latency_ns"`
	Retries      int64         `json:"retries"`
	Generations  int64         `json:"generations"`
	Successes    int64         `json:"successes"`
	Failures     int64         `json:"failures"`
	CostUSD      float64       `json:"estimated_cost_usd"`
}

// TotalTokens returns input plus output tokens.
func (s Snapshot) TotalTokens() int64 { return s.InputTokens + s.OutputTokens }

// Snapshot reads every counter.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		APICalls:     m.apiCalls.Load(),
		APIErrors:    m.apiErrors.Load(),
		InputTokens:  m.inputTokens.Load(),
		OutputTokens: m.outputTokens.Load(),
		TotalLatency: time.Duration(m.latencyNanos.Load()),
		Retries:      m.retries.Load(),
		Generations:  m.generations.Load(),
		Successes:    m.successes.Load(),
		Failures:     m.failures.Load(),
		CostUSD:      float64(m.costMicroUSD.Load()) / 1e6,
	}
}

// observeCall records one LLM call. estimatedInput is used when the provider
// reports no input token usage.
func (m *Metrics) observeCall(model string, latency time.Duration, resp *llm.CompletionResponse, estimatedInput int, err error) {
	m.apiCalls.Add(1)
	m.latencyNanos.Add(int64(latency))
	if err != nil || resp == nil {
		m.apiErrors.Add(1)
		return
	}
	input := resp.InputTokens
	if input == 0 {
		input = estimatedInput
	}
	m.inputTokens.Add(int64(input))
	m.outputTokens.Add(int64(resp.OutputTokens))
	if resp.Model != "" {
		model = resp.Model
	}
	cost := llm.EstimateCost(model, input, resp.OutputTokens)
	m.costMicroUSD.Add(int64(cost * 1e6))
}

// Collector exports Metrics to Prometheus.
type Collector struct {
	m     *Metrics
	descs map[string]*prometheus.Desc
}

var collectorHelp = map[string]string{
	"api_calls_total":           "LLM completion calls made by the SQL generator.",
	"api_errors_total":          "LLM completion calls that returned an error.",
	"input_tokens_total":        "Prompt tokens sent to the LLM.",
	"output_tokens_total":       "Completion tokens received from the LLM.",
	"llm_latency_seconds_total": "Cumulative LLM call latency.",
	"retries_total":             "Failed generation attempts.",
	"generations_total":         "Generate calls.",
	"successes_total":           "Generate calls that produced SQL.",
	"failures_total":            "Generate calls that exhausted their attempts.",
	"estimated_cost_usd_total":  "Estimated LLM spend in USD.",
}

// NewCollector returns a prometheus.Collector for m under namespace.
func NewCollector(m *Metrics, namespace string) *Collector {
	c := &Collector{m: m, descs: make(map[string]*prometheus.Desc, len(collectorHelp))}
	for name, help := range collectorHelp {
		c.descs[name] = prometheus.NewDesc(prometheus.BuildFQName(namespace, "sqlgen", name), help, nil, nil)
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	values := map[string]float64{
		"api_calls_total":           float64(s.APICalls),
		"api_errors_total":          float64(s.APIErrors),
		"input_tokens_total":        float64(s.InputTokens),
		"output_tokens_total":       float64(s.OutputTokens),
		"llm_latency_seconds_total": s.TotalLatency.Seconds(),
		"retries_total":             float64(s.Retries),
		"generations_total":         float64(s.Generations),
		"successes_total":           float64(s.Successes),
		"failures_total":            float64(s.Failures),
		"estimated_cost_usd_total":  s.CostUSD,
	}
	for name, v := range values {
		ch <- prometheus.MustNewConstMetric(c.descs[name], prometheus.CounterValue, v)
	}
}
