// Package metrics exports the control tower's in-memory counters to
// Prometheus.
//
// Collector reads fresh snapshots from the wired components on every scrape
// and emits constant metrics, so there is no package-level state and no
// double bookkeeping: the components own their counters, the collector just
// projects them. Register it on an explicit prometheus.Registry and mount
// promhttp next to the websocket hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/toolmesh/orchestrator"
	"github.com/hupe1980/toolmesh/registry"
	"github.com/hupe1980/toolmesh/tool"
)

// Sources are the snapshot functions the collector reads at scrape time.
// Nil entries are skipped, so partial wirings export partial families.
type Sources struct {
	// Registry reports managed server counts by status.
	Registry func() registry.Stats

	// Orchestrator reports chat aggregates.
	Orchestrator func() orchestrator.Stats

	// Executor reports tool dispatch counts.
	Executor func() tool.Stats

	// Pending reports in-flight transport requests.
	Pending func() int

	// Clients reports connected broadcast clients.
	Clients func() int
}

// Collector implements prometheus.Collector over the wired sources.
type Collector struct {
	sources Sources

	servers          *prometheus.Desc
	conversations    *prometheus.Desc
	messages         *prometheus.Desc
	toolCalls        *prometheus.Desc
	toolUsage        *prometheus.Desc
	executorCalls    *prometheus.Desc
	executorFailures *prometheus.Desc
	executorDispatch *prometheus.Desc
	pending          *prometheus.Desc
	clients          *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector over the given sources.
func NewCollector(sources Sources) *Collector {
	return &Collector{
		sources: sources,
		servers: prometheus.NewDesc(
			"toolmesh_servers",
			"Number of managed servers by status",
			[]string{"status"}, nil,
		),
		conversations: prometheus.NewDesc(
			"toolmesh_conversations_total",
			"Total number of conversations created",
			nil, nil,
		),
		messages: prometheus.NewDesc(
			"toolmesh_messages_total",
			"Total number of messages appended to conversation logs",
			nil, nil,
		),
		toolCalls: prometheus.NewDesc(
			"toolmesh_chat_tool_calls_total",
			"Total number of tool calls made by chat turns",
			nil, nil,
		),
		toolUsage: prometheus.NewDesc(
			"toolmesh_chat_tool_usage_total",
			"Total number of chat tool calls by tool name",
			[]string{"tool"}, nil,
		),
		executorCalls: prometheus.NewDesc(
			"toolmesh_executor_calls_total",
			"Total number of tool calls dispatched by the executor",
			nil, nil,
		),
		executorFailures: prometheus.NewDesc(
			"toolmesh_executor_failures_total",
			"Total number of tool calls that settled into failure envelopes",
			nil, nil,
		),
		executorDispatch: prometheus.NewDesc(
			"toolmesh_executor_dispatch_total",
			"Total number of tool calls by serving backend",
			[]string{"source"}, nil,
		),
		pending: prometheus.NewDesc(
			"toolmesh_transport_pending_requests",
			"Number of transport requests awaiting a response",
			nil, nil,
		),
		clients: prometheus.NewDesc(
			"toolmesh_hub_clients",
			"Number of connected broadcast clients",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.servers
	ch <- c.conversations
	ch <- c.messages
	ch <- c.toolCalls
	ch <- c.toolUsage
	ch <- c.executorCalls
	ch <- c.executorFailures
	ch <- c.executorDispatch
	ch <- c.pending
	ch <- c.clients
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sources.Registry != nil {
		stats := c.sources.Registry()
		ch <- prometheus.MustNewConstMetric(c.servers, prometheus.GaugeValue, float64(stats.Running), string(registry.StatusRunning))
		ch <- prometheus.MustNewConstMetric(c.servers, prometheus.GaugeValue, float64(stats.Starting), string(registry.StatusStarting))
		ch <- prometheus.MustNewConstMetric(c.servers, prometheus.GaugeValue, float64(stats.Stopped), string(registry.StatusStopped))
		ch <- prometheus.MustNewConstMetric(c.servers, prometheus.GaugeValue, float64(stats.Error), string(registry.StatusError))
	}

	if c.sources.Orchestrator != nil {
		stats := c.sources.Orchestrator()
		ch <- prometheus.MustNewConstMetric(c.conversations, prometheus.CounterValue, float64(stats.Conversations))
		ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(stats.Messages))
		ch <- prometheus.MustNewConstMetric(c.toolCalls, prometheus.CounterValue, float64(stats.ToolCalls))
		for name, count := range stats.ToolUsage {
			ch <- prometheus.MustNewConstMetric(c.toolUsage, prometheus.CounterValue, float64(count), name)
		}
	}

	if c.sources.Executor != nil {
		stats := c.sources.Executor()
		ch <- prometheus.MustNewConstMetric(c.executorCalls, prometheus.CounterValue, float64(stats.Calls))
		ch <- prometheus.MustNewConstMetric(c.executorFailures, prometheus.CounterValue, float64(stats.Failures))
		ch <- prometheus.MustNewConstMetric(c.executorDispatch, prometheus.CounterValue, float64(stats.Local), string(tool.SourceLocal))
		ch <- prometheus.MustNewConstMetric(c.executorDispatch, prometheus.CounterValue, float64(stats.Remote), string(tool.SourceMCP))
		ch <- prometheus.MustNewConstMetric(c.executorDispatch, prometheus.CounterValue, float64(stats.Broadcast), string(tool.SourceWebsocket))
	}

	if c.sources.Pending != nil {
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(c.sources.Pending()))
	}

	if c.sources.Clients != nil {
		ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(c.sources.Clients()))
	}
}
