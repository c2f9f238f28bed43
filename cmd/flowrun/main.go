// Command flowrun is a minimal runnable demo of the execution engine: a
// three-node diagram (start -> job -> endpoint) driven through a
// SQLite-backed cache-first store, with events logged to stdout.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowcore/engine/core"
	"github.com/flowcore/engine/core/emit"
	"github.com/flowcore/engine/core/handler"
	"github.com/flowcore/engine/core/metrics"
	"github.com/flowcore/engine/core/store"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("flowrun: local engine demo")
	fmt.Println("==========================")

	dbPath := "./flowrun.db"
	backend, err := store.NewSQLiteBackend(dbPath)
	if err != nil {
		log.Fatalf("open sqlite backend: %v", err)
	}
	fmt.Printf("✓ opened sqlite store at %s\n", dbPath)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cacheStore := store.New(backend, store.DefaultConfig(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cacheStore.Start(ctx)
	defer cacheStore.Close()

	sink := emit.NewLogEmitter(os.Stdout, false)

	dispatcher := core.NewDispatcher()
	providers := handler.Providers{} // no API keys configured: Job nodes without a prompt pass through; PersonJob nodes fail for lack of a provider
	handler.RegisterDefaults(dispatcher, providers, nil)

	m := metrics.New(prometheus.NewRegistry())
	engine := core.New(dispatcher, cacheStore, sink,
		core.WithEngineDefaultNodeTimeout(0),
		core.WithEngineMetrics(m),
	)

	diagram := demoDiagram()

	fmt.Println("─────────────────────────────")
	fmt.Println("running diagram...")

	state, err := engine.Execute(ctx, "flowrun-demo-1", diagram, map[string]core.Value{
		"greeting": core.StringValue("hello from flowrun"),
	})
	if err != nil {
		log.Fatalf("execution failed: %v", err)
	}

	fmt.Println("─────────────────────────────")
	fmt.Printf("✓ execution %s finished with status %s\n", state.ExecutionID, state.Status)
	fmt.Printf("  executed nodes: %v\n", state.ExecutedNodes)
	if out, ok := state.NodeOutputs["endpoint"]; ok {
		fmt.Printf("  final output: %s\n", out.Body.Text)
	}
}

func demoDiagram() *core.Diagram {
	return &core.Diagram{
		ID: "flowrun-demo",
		Nodes: map[core.NodeID]*core.Node{
			"start": {ID: "start", Type: core.NodeStart, Data: map[string]any{"initial_text": "hello from flowrun"}},
			"job":   {ID: "job", Type: core.NodeJob, Data: map[string]any{}},
			"endpoint": {ID: "endpoint", Type: core.NodeEndpoint},
		},
		Edges: []core.Edge{
			{ID: "start->job", From: "start", To: "job", ContentType: core.ContentRawText, VariableName: "text"},
			{ID: "job->endpoint", From: "job", To: "endpoint", ContentType: core.ContentRawText, VariableName: "text"},
		},
	}
}
