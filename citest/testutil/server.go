package testutil

import (
	"context"
	"net/http/httptest"
	"os"
	"time"

	"github.com/quizmentor-ai/quizmentor/internal/event"
	"github.com/quizmentor-ai/quizmentor/internal/interaction"
	"github.com/quizmentor-ai/quizmentor/internal/prompt"
	"github.com/quizmentor-ai/quizmentor/internal/relay"
	"github.com/quizmentor-ai/quizmentor/internal/server"
	"github.com/quizmentor-ai/quizmentor/internal/upstream"
	"github.com/quizmentor-ai/quizmentor/pkg/types"
)

// TestServer runs the full relay stack against a mock upstream.
type TestServer struct {
	BaseURL string

	LLM          *MockLLMServer
	Registry     *relay.Registry
	Interactions *interaction.Store
	Bus          *event.Bus

	httpSrv *httptest.Server
	dataDir string
}

// TestRelayConfig are short sweep timings so suites finish quickly.
func TestRelayConfig() types.RelayConfig {
	return types.RelayConfig{
		IdleThreshold:     types.Duration(2 * time.Second),
		HeartbeatPeriod:   types.Duration(100 * time.Millisecond),
		GracePeriod:       types.Duration(2 * time.Second),
		StaleCeiling:      types.Duration(10 * time.Second),
		CleanupPeriod:     types.Duration(100 * time.Millisecond),
		MaxStreamDuration: types.Duration(5 * time.Second),
	}
}

// StartTestServer wires a mock upstream, a real registry and the HTTP layer
// together and starts serving on an ephemeral port.
func StartTestServer() (*TestServer, error) {
	llm := NewMockLLMServer()

	dataDir, err := os.MkdirTemp("", "quizmentor-e2e-*")
	if err != nil {
		llm.Close()
		return nil, err
	}
	store := interaction.New(dataDir)

	catalog := prompt.NewCatalog()
	catalog.Put("bio-101-q7", prompt.Subject{
		Question:  "Which organelle performs photosynthesis?",
		Reference: "Chloroplasts convert light into chemical energy.",
	})

	client := upstream.NewClient(upstream.Config{
		BaseURL: llm.URL(),
		APIKey:  "test-key",
		Model:   "mock-tutor",
	})
	completer := relay.CompleterFunc(func(ctx context.Context, messages []types.ChatMessage) (relay.DeltaStream, error) {
		stream, err := client.Stream(ctx, messages)
		if err != nil {
			return nil, err
		}
		return stream, nil
	})

	bus := event.NewBus()
	registry := relay.NewRegistry(TestRelayConfig(), relay.Deps{
		Completer: completer,
		Recorder:  store,
		Context:   prompt.NewContextBuilder(nil, catalog),
		Bus:       bus,
		Model:     "mock-tutor",
	})
	registry.Start()

	srv := server.New(&server.Config{EnableCORS: false}, registry)
	httpSrv := httptest.NewServer(srv.Router())

	return &TestServer{
		BaseURL:      httpSrv.URL,
		LLM:          llm,
		Registry:     registry,
		Interactions: store,
		Bus:          bus,
		httpSrv:      httpSrv,
		dataDir:      dataDir,
	}, nil
}

// Stop tears everything down.
func (t *TestServer) Stop() {
	t.httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.Registry.Shutdown(ctx)

	t.Bus.Close()
	t.LLM.Close()
	os.RemoveAll(t.dataDir)
}
