package main

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

const (
	defaultEventName   = "taskboard.request"
	defaultEventDomain = "taskboard.api"

	attrStatusCode  = "http.status_code"
	attrOperation   = "taskboard.operation"
	attrTotalMillis = "taskboard.total_ms"
	attrStoreMillis = "taskboard.store_ms"
	attrIdempotency = "taskboard.idempotency_key_provided"
	attrErrorStage  = "taskboard.error_stage"
)

// logRecord is one JSON log line written by the API's request metrics.
type logRecord struct {
	EventName    string         `json:"event.name"`
	EventDomain  string         `json:"event.domain"`
	SeverityText string         `json:"severity_text"`
	Attributes   map[string]any `json:"attributes"`
}

type numericStats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
}

func (n *numericStats) add(v float64) {
	if n.Count == 0 || v < n.Min {
		n.Min = v
	}
	if v > n.Max {
		n.Max = v
	}
	n.Count++
	n.Sum += v
}

type durationSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	Avg   float64 `json:"avg_ms"`
}

func (n *numericStats) summary() durationSummary {
	if n == nil || n.Count == 0 {
		return durationSummary{}
	}
	return durationSummary{Count: n.Count, Min: n.Min, Max: n.Max, Avg: n.Sum / float64(n.Count)}
}

type operationStats struct {
	Count  int
	Errors int
	Total  numericStats
	Store  numericStats
}

type operationSummary struct {
	Count   int             `json:"count"`
	Errors  int             `json:"errors"`
	TotalMs durationSummary `json:"total_ms"`
	StoreMs durationSummary `json:"store_ms"`
}

type summaryOutput struct {
	EventName      string                      `json:"event_name"`
	EventDomain    string                      `json:"event_domain"`
	TotalEvents    int                         `json:"total_events"`
	SeverityCounts map[string]int              `json:"severity_counts"`
	StatusCounts   map[string]int              `json:"status_counts"`
	Operations     map[string]operationSummary `json:"operations"`
	ErrorStages    map[string]int              `json:"error_stages,omitempty"`
	IdempotentReqs int                         `json:"idempotent_requests"`
	SkippedLines   int                         `json:"skipped_lines"`
}

type collector struct {
	eventName   string
	eventDomain string

	count       int
	severities  map[string]int
	statuses    map[int]int
	operations  map[string]*operationStats
	errorStages map[string]int
	idempotent  int
	skipped     int
}

func newCollector(eventName, eventDomain string) *collector {
	return &collector{
		eventName:   eventName,
		eventDomain: eventDomain,
		severities:  make(map[string]int),
		statuses:    make(map[int]int),
		operations:  make(map[string]*operationStats),
		errorStages: make(map[string]int),
	}
}

// ingest consumes one log line. Lines may carry a "container | " prefix as
// written by docker compose.
func (c *collector) ingest(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	if pipe := strings.Index(trimmed, "|"); pipe >= 0 && !strings.HasPrefix(trimmed, "{") {
		trimmed = strings.TrimSpace(trimmed[pipe+1:])
	}
	var rec logRecord
	dec := sonic.ConfigStd.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		c.skipped++
		return
	}
	if rec.EventName != c.eventName || (c.eventDomain != "" && rec.EventDomain != c.eventDomain) {
		return
	}
	c.add(rec)
}

func (c *collector) add(rec logRecord) {
	c.count++
	severity := strings.ToUpper(strings.TrimSpace(rec.SeverityText))
	if severity == "" {
		severity = "UNSPECIFIED"
	}
	c.severities[severity]++

	attrs := rec.Attributes
	op, _ := attrs[attrOperation].(string)
	if op == "" {
		op = "unknown"
	}
	stats, ok := c.operations[op]
	if !ok {
		stats = &operationStats{}
		c.operations[op] = stats
	}
	stats.Count++
	if severity == "ERROR" || severity == "WARN" {
		stats.Errors++
	}
	if status, ok := asInt(attrs[attrStatusCode]); ok {
		c.statuses[status]++
	}
	if v, ok := asFloat(attrs[attrTotalMillis]); ok {
		stats.Total.add(v)
	}
	if v, ok := asFloat(attrs[attrStoreMillis]); ok {
		stats.Store.add(v)
	}
	if b, ok := attrs[attrIdempotency].(bool); ok && b {
		c.idempotent++
	}
	if stage, ok := attrs[attrErrorStage].(string); ok && stage != "" {
		c.errorStages[stage]++
	}
}

func (c *collector) summary() summaryOutput {
	out := summaryOutput{
		EventName:      c.eventName,
		EventDomain:    c.eventDomain,
		TotalEvents:    c.count,
		SeverityCounts: make(map[string]int, len(c.severities)),
		StatusCounts:   make(map[string]int, len(c.statuses)),
		Operations:     make(map[string]operationSummary, len(c.operations)),
		IdempotentReqs: c.idempotent,
		SkippedLines:   c.skipped,
	}
	for k, v := range c.severities {
		out.SeverityCounts[k] = v
	}
	for status, n := range c.statuses {
		out.StatusCounts[strconv.Itoa(status)] = n
	}
	for op, s := range c.operations {
		out.Operations[op] = operationSummary{
			Count:   s.Count,
			Errors:  s.Errors,
			TotalMs: s.Total.summary(),
			StoreMs: s.Store.summary(),
		}
	}
	if len(c.errorStages) > 0 {
		out.ErrorStages = make(map[string]int, len(c.errorStages))
		for k, v := range c.errorStages {
			out.ErrorStages[k] = v
		}
	}
	return out
}

// ShortString is the one-line console form of the summary.
func (s summaryOutput) ShortString() string {
	ops := make([]string, 0, len(s.Operations))
	for op := range s.Operations {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	parts := []string{
		"event=" + s.EventName,
		"total=" + strconv.Itoa(s.TotalEvents),
		"warn=" + strconv.Itoa(s.SeverityCounts["WARN"]),
		"error=" + strconv.Itoa(s.SeverityCounts["ERROR"]),
	}
	for _, op := range ops {
		o := s.Operations[op]
		parts = append(parts, op+"="+strconv.Itoa(o.Count)+"/"+formatFloat(o.TotalMs.Avg)+"ms")
	}
	return strings.Join(parts, " ")
}

func formatFloat(v float64) string {
	if v == 0 || math.IsNaN(v) {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
