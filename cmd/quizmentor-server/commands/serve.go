package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/quizmentor-ai/quizmentor/internal/config"
	"github.com/quizmentor-ai/quizmentor/internal/event"
	"github.com/quizmentor-ai/quizmentor/internal/interaction"
	"github.com/quizmentor-ai/quizmentor/internal/logging"
	"github.com/quizmentor-ai/quizmentor/internal/prompt"
	"github.com/quizmentor-ai/quizmentor/internal/relay"
	"github.com/quizmentor-ai/quizmentor/internal/server"
	"github.com/quizmentor-ai/quizmentor/internal/upstream"
	"github.com/quizmentor-ai/quizmentor/pkg/types"
)

var (
	servePort int
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stream relay server",
	Long: `Start the HTTP server that relays upstream chat completions to
polling clients. Each started stream is buffered in memory and consumed
through cursor-based polling.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	// .env is optional; real deployments use the environment directly.
	godotenv.Load()

	workDir := serveDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(level),
		Pretty: prettyLogs,
	})
	log := logging.Component("main")
	log.Info().Str("version", Version).Msg("starting quizmentor server")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = paths.InteractionPath()
	}
	store := interaction.New(dataDir)

	promptStore := prompt.NewStore(cfg.PromptTemplate)
	if err := promptStore.Watch(); err != nil {
		log.Warn().Err(err).Msg("prompt template hot reload disabled")
	}
	defer promptStore.Close()

	catalog := prompt.NewCatalog()
	if cfg.SubjectCatalog != "" {
		loaded, err := prompt.LoadCatalog(cfg.SubjectCatalog)
		if err != nil {
			log.Warn().Err(err).Msg("subject catalog unavailable, using subject ids as questions")
		} else {
			catalog = loaded
			log.Info().Int("subjects", catalog.Len()).Msg("subject catalog loaded")
		}
	}

	bus := event.NewBus()
	defer bus.Close()
	bus.SubscribeAll(func(e event.Event) {
		if data, ok := e.Data.(event.StreamData); ok {
			log.Debug().
				Str("event", string(e.Type)).
				Str("stream", data.StreamID).
				Str("requester", data.RequesterID).
				Msg("stream event")
		}
	})

	client := upstream.NewClient(upstream.Config{
		BaseURL:   cfg.Upstream.BaseURL,
		APIKey:    cfg.Upstream.APIKey,
		Model:     cfg.Upstream.Model,
		MaxTokens: cfg.Upstream.MaxTokens,
	})
	completer := relay.CompleterFunc(func(ctx context.Context, messages []types.ChatMessage) (relay.DeltaStream, error) {
		stream, err := client.Stream(ctx, messages)
		if err != nil {
			return nil, err
		}
		return stream, nil
	})

	registry := relay.NewRegistry(cfg.Relay, relay.Deps{
		Completer: completer,
		Recorder:  store,
		Context:   prompt.NewContextBuilder(promptStore, catalog),
		Bus:       bus,
		Model:     cfg.Upstream.Model,
	})
	registry.Start()

	serverConfig := server.DefaultConfig()
	serverConfig.Port = servePort
	srv := server.New(serverConfig, registry)

	go func() {
		log.Info().Int("port", servePort).Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("registry shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}
