package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/orchestrator"
	"github.com/hupe1980/toolmesh/registry"
	"github.com/hupe1980/toolmesh/tool"
)

func TestCollector_ExportsAllFamilies(t *testing.T) {
	col := NewCollector(Sources{
		Registry: func() registry.Stats {
			return registry.Stats{Total: 4, Running: 2, Starting: 0, Stopped: 1, Error: 1}
		},
		Orchestrator: func() orchestrator.Stats {
			return orchestrator.Stats{
				Conversations: 3,
				Messages:      11,
				ToolCalls:     2,
				ToolUsage:     map[string]int64{"get_time": 2},
			}
		},
		Executor: func() tool.Stats {
			return tool.Stats{Calls: 5, Failures: 1, Local: 3, Remote: 1, Broadcast: 1}
		},
		Pending: func() int { return 2 },
		Clients: func() int { return 1 },
	})

	expected := `
# HELP toolmesh_servers Number of managed servers by status
# TYPE toolmesh_servers gauge
toolmesh_servers{status="error"} 1
toolmesh_servers{status="running"} 2
toolmesh_servers{status="starting"} 0
toolmesh_servers{status="stopped"} 1
# HELP toolmesh_chat_tool_usage_total Total number of chat tool calls by tool name
# TYPE toolmesh_chat_tool_usage_total counter
toolmesh_chat_tool_usage_total{tool="get_time"} 2
# HELP toolmesh_executor_dispatch_total Total number of tool calls by serving backend
# TYPE toolmesh_executor_dispatch_total counter
toolmesh_executor_dispatch_total{source="local"} 3
toolmesh_executor_dispatch_total{source="mcp"} 1
toolmesh_executor_dispatch_total{source="websocket"} 1
# HELP toolmesh_transport_pending_requests Number of transport requests awaiting a response
# TYPE toolmesh_transport_pending_requests gauge
toolmesh_transport_pending_requests 2
# HELP toolmesh_hub_clients Number of connected broadcast clients
# TYPE toolmesh_hub_clients gauge
toolmesh_hub_clients 1
`

	require.NoError(t, testutil.CollectAndCompare(col, strings.NewReader(expected),
		"toolmesh_servers",
		"toolmesh_chat_tool_usage_total",
		"toolmesh_executor_dispatch_total",
		"toolmesh_transport_pending_requests",
		"toolmesh_hub_clients",
	))

	problems, err := testutil.CollectAndLint(col)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestCollector_NilSourcesExportNothing(t *testing.T) {
	col := NewCollector(Sources{})
	assert.Equal(t, 0, testutil.CollectAndCount(col))
}

func TestCollector_ReadsExecutorSnapshots(t *testing.T) {
	exec := tool.NewExecutor(tool.DefaultCatalog())
	col := NewCollector(Sources{Executor: exec.Stats})

	res := exec.Execute(context.Background(), "no_such_tool", nil)
	require.False(t, res.Success)

	expected := `
# HELP toolmesh_executor_calls_total Total number of tool calls dispatched by the executor
# TYPE toolmesh_executor_calls_total counter
toolmesh_executor_calls_total 1
# HELP toolmesh_executor_failures_total Total number of tool calls that settled into failure envelopes
# TYPE toolmesh_executor_failures_total counter
toolmesh_executor_failures_total 1
`

	require.NoError(t, testutil.CollectAndCompare(col, strings.NewReader(expected),
		"toolmesh_executor_calls_total",
		"toolmesh_executor_failures_total",
	))
}
