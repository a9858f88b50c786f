package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/toolmesh"
	"github.com/hupe1980/toolmesh/broadcast"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/metrics"
	"github.com/hupe1980/toolmesh/model"
	"github.com/hupe1980/toolmesh/model/anthropic"
	"github.com/hupe1980/toolmesh/model/openai"
	"github.com/hupe1980/toolmesh/orchestrator"
	"github.com/hupe1980/toolmesh/registry"
)

var (
	manifestPath string
	logLevel     string
	logFormat    string

	serveAddr string

	chatEngine       string
	chatModel        string
	chatConversation string
)

var rootCmd = &cobra.Command{
	Use:   "toolmesh",
	Short: "ToolMesh - supervise tool servers and drive model-routed chat",
	Long: `ToolMesh launches and supervises external tool server processes, exposes a
flat catalog of callable tools, and drives a bounded reasoning loop in which
an inference engine invokes tools turn by turn.

Environment Variables:
  OPENAI_API_KEY      - enables the OpenAI engine
  ANTHROPIC_API_KEY   - enables the Anthropic engine`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control tower",
	Long: `Loads the server manifest, starts every declared server, and serves the
websocket activity feed (/ws), Prometheus metrics (/metrics), a chat endpoint
(/chat) and state snapshots (/stats, /servers) until interrupted.`,
	RunE: runServe,
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tool catalog",
	RunE:  runTools,
}

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List declared servers and their status",
	RunE:  runServers,
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Run a one-shot chat turn",
	Long: `Runs a single conversational turn against the selected engine. The mock
engine needs no credentials and echoes the prompt; openai and anthropic use
their SDK defaults plus the respective API key from the environment.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "", "YAML manifest declaring managed servers")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "HTTP listen address")

	chatCmd.Flags().StringVar(&chatEngine, "engine", "mock", "inference engine: mock, openai or anthropic")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model name to register the engine under")
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "cli", "conversation id to append the turn to")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() logging.Logger {
	return logging.NewSlogLogger(logging.ParseLogLevel(logLevel), logFormat, false)
}

// -------------------- serve --------------------

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	hub := broadcast.NewHub(func(o *broadcast.Options) {
		o.Logger = logger
	})
	defer hub.Close()

	mesh := toolmesh.New(func(o *toolmesh.Options) {
		o.Logger = logger
		o.Broadcaster = hub
		o.Callbacks = activityCallbacks(hub, logger)
	})
	defer mesh.Shutdown()

	registerEngines(mesh, logger)

	if manifestPath != "" {
		descriptors, err := registry.LoadManifest(manifestPath)
		if err != nil {
			return fmt.Errorf("load manifest: %w", err)
		}
		if err := mesh.Registry().Load(descriptors); err != nil {
			return fmt.Errorf("load descriptors: %w", err)
		}
		for _, d := range descriptors {
			if err := mesh.Registry().Start(d.Name); err != nil {
				logger.Error("serve.server_start_failed", "server", d.Name, "error", err)
			}
		}
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(metrics.NewCollector(metrics.Sources{
		Registry:     mesh.Registry().Stats,
		Orchestrator: mesh.Orchestrator().Stats,
		Executor:     mesh.Executor().Stats,
		Clients:      hub.ClientCount,
	}))

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/chat", chatHandler(mesh, logger))
	mux.HandleFunc("/stats", statsHandler(mesh, hub))
	mux.HandleFunc("/servers", serversHandler(mesh))

	srv := &http.Server{
		Addr:         serveAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve.http_failed", "error", err)
		}
	}()
	logger.Info("serve.listening", "addr", serveAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("serve.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("serve.shutdown_failed", "error", err)
	}

	stopped := mesh.Shutdown()
	logger.Info("serve.stopped", "servers_stopped", stopped)
	return nil
}

// activityCallbacks forwards chat lifecycle events to the websocket feed.
// Broadcast failures are logged, never returned: a full client queue must
// not abort the turn that triggered the event.
func activityCallbacks(hub *broadcast.Hub, logger logging.Logger) *orchestrator.CallbackManager {
	callbacks := orchestrator.NewCallbackManager()

	callbacks.Register(orchestrator.NewFunctionCallback(orchestrator.CallbackOnMessage,
		func(ctx context.Context, cc *orchestrator.CallbackContext) error {
			event := map[string]any{
				"type":         "activity",
				"event":        "message",
				"conversation": cc.ConversationID,
				"role":         cc.Message.Role,
			}
			if err := hub.Broadcast(event); err != nil {
				logger.Debug("serve.activity_dropped", "error", err)
			}
			return nil
		}))

	callbacks.Register(orchestrator.NewFunctionCallback(orchestrator.CallbackOnToolCall,
		func(ctx context.Context, cc *orchestrator.CallbackContext) error {
			event := map[string]any{
				"type":         "activity",
				"event":        "tool_call",
				"conversation": cc.ConversationID,
				"tool":         cc.ToolResult.Tool,
				"success":      cc.ToolResult.Success,
				"source":       cc.ToolResult.Source,
			}
			if err := hub.Broadcast(event); err != nil {
				logger.Debug("serve.activity_dropped", "error", err)
			}
			return nil
		}))

	return callbacks
}

// registerEngines wires every engine the environment has credentials for.
func registerEngines(mesh *toolmesh.Mesh, logger logging.Logger) {
	registered := 0
	if os.Getenv("OPENAI_API_KEY") != "" {
		mesh.RegisterEngine("gpt-4o-mini", openai.NewEngine())
		registered++
	}
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		mesh.RegisterEngine("claude-3-5-haiku", anthropic.NewEngine(func(o *anthropic.Options) {
			o.Model = "claude-3-5-haiku-latest"
		}))
		registered++
	}
	if registered == 0 {
		logger.Warn("serve.no_engines", "hint", "set OPENAI_API_KEY or ANTHROPIC_API_KEY to serve /chat")
	}
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	Model          string `json:"model,omitempty"`
}

func chatHandler(mesh *toolmesh.Mesh, logger logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			http.Error(w, "message is required", http.StatusBadRequest)
			return
		}
		if req.ConversationID == "" {
			req.ConversationID = "default"
		}

		result, err := mesh.Chat(r.Context(), req.ConversationID, req.Message, func(o *orchestrator.ChatOptions) {
			o.Model = req.Model
		})
		if err != nil {
			logger.Error("serve.chat_failed", "conversation", req.ConversationID, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, result)
	}
}

func statsHandler(mesh *toolmesh.Mesh, hub *broadcast.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, map[string]any{
			"servers":  mesh.Registry().Stats(),
			"chat":     mesh.Stats(),
			"executor": mesh.Executor().Stats(),
			"clients":  hub.ClientCount(),
		})
	}
}

func serversHandler(mesh *toolmesh.Mesh) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, mesh.Registry().Snapshot())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// -------------------- tools --------------------

func runTools(cmd *cobra.Command, args []string) error {
	mesh := toolmesh.New()
	catalog := mesh.Catalog()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tDESCRIPTION")
	for _, name := range catalog.Names() {
		desc, _ := catalog.Get(name)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", desc.Name, desc.Category, desc.Description)
	}
	return tw.Flush()
}

// -------------------- servers --------------------

func runServers(cmd *cobra.Command, args []string) error {
	if manifestPath == "" {
		return fmt.Errorf("--manifest is required")
	}

	descriptors, err := registry.LoadManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	reg := registry.New(func(o *registry.Options) {
		o.Logger = newLogger()
	})
	if err := reg.Load(descriptors); err != nil {
		return fmt.Errorf("load descriptors: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tCOMMAND")
	for _, view := range reg.Snapshot() {
		desc := commandLine(descriptors, view.Name)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", view.Name, view.Status, desc)
	}
	return tw.Flush()
}

func commandLine(descriptors []registry.ServerDescriptor, name string) string {
	for _, d := range descriptors {
		if d.Name == name {
			return strings.TrimSpace(d.Command + " " + strings.Join(d.Args, " "))
		}
	}
	return ""
}

// -------------------- chat --------------------

func runChat(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	message := strings.Join(args, " ")

	name, engine, err := buildEngine()
	if err != nil {
		return err
	}

	mesh := toolmesh.New(func(o *toolmesh.Options) {
		o.Logger = logger
		o.Model = name
	})
	mesh.RegisterEngine(name, engine)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := mesh.Chat(ctx, chatConversation, message)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}

	for _, tr := range result.ToolResults {
		fmt.Printf("[tool %s] success=%t source=%s\n", tr.Tool, tr.Success, tr.Source)
	}
	fmt.Println(result.Answer)
	return nil
}

func buildEngine() (string, model.Engine, error) {
	switch chatEngine {
	case "mock":
		name := chatModel
		if name == "" {
			name = "mock-1"
		}
		return name, model.NewMockEngine(name), nil

	case "openai":
		if os.Getenv("OPENAI_API_KEY") == "" {
			return "", nil, fmt.Errorf("OPENAI_API_KEY environment variable is required for --engine openai")
		}
		name := chatModel
		if name == "" {
			name = "gpt-4o-mini"
		}
		engine := openai.NewEngine(func(o *openai.Options) {
			o.Model = name
		})
		return name, engine, nil

	case "anthropic":
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			return "", nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is required for --engine anthropic")
		}
		name := chatModel
		engine := anthropic.NewEngine(func(o *anthropic.Options) {
			if name != "" {
				o.Model = anthropicsdk.Model(name)
			}
		})
		if name == "" {
			name = "claude-3-5-sonnet"
		}
		return name, engine, nil

	default:
		return "", nil, fmt.Errorf("unknown engine %q (expected mock, openai or anthropic)", chatEngine)
	}
}
