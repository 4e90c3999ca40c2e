package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/philippgille/chromem-go"

	"github.com/pixelatedempathy/pixelated-sub022/pkg/audit"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/config"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/crisis"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/eq"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/escalate"
	"github.com/pixelatedempathy/pixelated-sub022/pkg/session"
)

const Version = "0.1.0"

// Pipeline bundles the session manager with its audit sink. The
// semantic layer is optional and degrades gracefully when its
// embedding backend is unavailable.
type Pipeline struct {
	manager *session.Manager
	sink    audit.Sink
	cfg     *config.Config
}

func NewPipeline(cfg *config.Config) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	var lex *config.Lexicon
	if cfg.LexiconPath != "" {
		var err error
		lex, err = config.LoadLexicon(cfg.LexiconPath)
		if err != nil {
			return nil, err
		}
		log.Printf("[STARTUP] Lexicon overlay loaded from %s", cfg.LexiconPath)
	}

	crisisOpts := append([]crisis.Option{crisis.WithThresholds(cfg.CrisisThresholds())}, lex.CrisisOptions()...)
	eqOpts := append([]eq.Option{eq.WithThreshold(cfg.BiasThreshold)}, lex.BiasOptions()...)

	redactOpts := cfg.RedactOptions()
	if custom := lex.CustomRedactions(); custom != nil {
		redactOpts.Custom = custom
	}

	mgrOpts := []session.ManagerOption{
		session.WithDetector(crisis.NewDetector(crisisOpts...)),
		session.WithValidator(eq.NewValidator(eqOpts...)),
		session.WithEngine(newEngine(cfg)),
		session.WithRedaction(redactOpts),
		session.WithLimits(cfg.SessionLimits()),
	}

	switch cfg.SessionBackend {
	case config.BackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := session.NewRedisStore(ctx, cfg.RedisAddr, cfg.SessionTTL)
		cancel()
		if err != nil {
			return nil, err
		}
		mgrOpts = append(mgrOpts, session.WithStore(store))
		log.Printf("✓ Redis session store (%s)", cfg.RedisAddr)
	default:
		mgrOpts = append(mgrOpts, session.WithStore(session.NewMemoryStore(session.WithMaxAge(cfg.SessionTTL))))
		log.Println("○ In-memory session store (single node)")
	}

	// Advisory semantic layer: embeddings via a local Ollama server,
	// same backend chromem-go uses everywhere else.
	if cfg.EnableSemantic {
		embed := chromem.NewEmbeddingFuncOllama(
			config.GetEnv("PIXEL_EMBED_MODEL", "nomic-embed-text"),
			config.GetEnv("PIXEL_OLLAMA_URL", "http://localhost:11434/api"),
		)
		sd, err := crisis.NewSemanticDetector(embed, float32(cfg.SemanticThreshold))
		if err != nil {
			log.Printf("○ Semantic layer disabled (init failed: %v)", err)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			err = sd.LoadExemplars(ctx)
			cancel()
			if err != nil {
				log.Printf("○ Semantic layer disabled (exemplar load failed: %v)", err)
			} else {
				mgrOpts = append(mgrOpts, session.WithSemantic(sd))
				log.Println("✓ Semantic layer enabled (chromem-go + Ollama embeddings)")
			}
		}
	} else {
		log.Println("○ Semantic layer disabled")
	}

	sink, err := newSink(cfg)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		manager: session.NewManager(mgrOpts...),
		sink:    sink,
		cfg:     cfg,
	}, nil
}

func newEngine(cfg *config.Config) *escalate.Engine {
	e := escalate.NewEngine()
	e.SustainedLowTurns = cfg.SustainedLowTurns
	return e
}

func newSink(cfg *config.Config) (audit.Sink, error) {
	switch cfg.AuditBackend {
	case config.AuditNone:
		log.Println("○ Auditing disabled")
		return audit.NopSink{}, nil
	case config.AuditPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sink, err := audit.NewPostgresSink(ctx, cfg.AuditPostgresDSN)
		if err != nil {
			return nil, err
		}
		log.Println("✓ Postgres audit sink")
		return sink, nil
	default:
		sink, err := audit.NewJSONLSink(cfg.AuditLogPath)
		if err != nil {
			return nil, err
		}
		log.Printf("✓ JSONL audit sink (%s)", cfg.AuditLogPath)
		return sink, nil
	}
}

func (p *Pipeline) Close() {
	if err := p.sink.Close(); err != nil {
		log.Printf("[SHUTDOWN] audit sink close: %v", err)
	}
	if err := p.manager.Close(); err != nil {
		log.Printf("[SHUTDOWN] session manager close: %v", err)
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cfg := config.NewDefaultConfig()
		if len(os.Args) > 2 {
			cfg.ListenAddr = os.Args[2]
		}
		runServer(cfg)
	case "analyze":
		if len(os.Args) < 3 {
			fmt.Println("Usage: gateway analyze <text>")
			os.Exit(1)
		}
		runAnalyze(strings.Join(os.Args[2:], " "))
	case "version":
		fmt.Printf("Pixelated Safety Gateway v%s\n", Version)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Pixelated Safety Gateway v%s - conversation safety pipeline\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  gateway serve [addr]     Start HTTP server (default: :8087)")
	fmt.Println("  gateway analyze <text>   Run one turn through the pipeline and print the result")
	fmt.Println("  gateway version          Show version")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Println("  gateway serve :8080")
	fmt.Println("  gateway analyze \"I had a rough week but therapy helps\"")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  PIXEL_SESSION_BACKEND   Session store: memory (default) or redis")
	fmt.Println("  PIXEL_AUDIT_BACKEND     Audit sink: jsonl (default), postgres, none")
	fmt.Println("  PIXEL_LEXICON_PATH      YAML lexicon overlay")
	fmt.Println("  PIXEL_ENABLE_SEMANTIC   Enable the advisory semantic crisis layer")
}

// ============================================================================
// HTTP Server Mode
// ============================================================================

func runServer(cfg *config.Config) {
	cfg.MustValidate()

	pipe, err := NewPipeline(cfg)
	if err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	defer pipe.Close()

	app := fiber.New(fiber.Config{
		AppName: "Pixelated Safety Gateway",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	app.Post("/v1/sessions", func(c fiber.Ctx) error {
		var req struct {
			SessionID    string            `json:"session_id"`
			UserID       string            `json:"user_id"`
			Demographics map[string]string `json:"demographics"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		sess, err := pipe.manager.Init(c.Context(), req.SessionID, req.UserID, req.Demographics)
		if err != nil {
			return sessionError(c, err)
		}
		return c.Status(201).JSON(sess)
	})

	app.Post("/v1/turns", func(c fiber.Ctx) error {
		var req struct {
			SessionID string `json:"session_id"`
			Role      string `json:"role"`
			Text      string `json:"text"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.SessionID == "" {
			return c.Status(400).JSON(fiber.Map{"error": "session_id is required"})
		}
		if req.Role == "" {
			req.Role = "user"
		}

		res, err := pipe.manager.Append(c.Context(), req.SessionID, req.Role, req.Text)
		if err != nil {
			return sessionError(c, err)
		}

		sess, err := pipe.manager.State(c.Context(), req.SessionID)
		if err == nil {
			rec := audit.NewRecord(req.SessionID, sess.UserID, res)
			if werr := pipe.sink.Write(c.Context(), rec); werr != nil {
				log.Printf("[AUDIT] write failed: %v", werr)
			}
		}

		return c.JSON(res)
	})

	app.Get("/v1/sessions/:id", func(c fiber.Ctx) error {
		sess, err := pipe.manager.State(c.Context(), c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		return c.JSON(sess)
	})

	app.Post("/v1/sessions/:id/end", func(c fiber.Ctx) error {
		sess, err := pipe.manager.End(c.Context(), c.Params("id"))
		if err != nil {
			return sessionError(c, err)
		}
		return c.JSON(sess)
	})

	app.Post("/v1/sessions/:id/override", func(c fiber.Ctx) error {
		var req struct {
			By    string           `json:"by"`
			Note  string           `json:"note"`
			Level crisis.RiskLevel `json:"level"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.By == "" {
			return c.Status(400).JSON(fiber.Map{"error": "by field is required"})
		}
		sess, err := pipe.manager.RecordOverride(c.Context(), c.Params("id"), req.By, req.Note, req.Level)
		if err != nil {
			return sessionError(c, err)
		}
		log.Printf("[AUDIT] override session=%s by=%s level=%s", sess.ID, req.By, req.Level)
		return c.JSON(sess)
	})

	log.Printf("Pixelated Safety Gateway starting on %s", cfg.ListenAddr)
	log.Printf("Endpoints:")
	log.Printf("  GET  /health                    - Health check")
	log.Printf("  POST /v1/sessions               - Create session")
	log.Printf("  POST /v1/turns                  - Append a turn")
	log.Printf("  GET  /v1/sessions/:id           - Session snapshot")
	log.Printf("  POST /v1/sessions/:id/end       - End session")
	log.Printf("  POST /v1/sessions/:id/override  - Clinician risk override")

	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}

func sessionError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "session not found"})
	case errors.Is(err, session.ErrSessionClosed):
		return c.Status(409).JSON(fiber.Map{"error": "session closed"})
	case errors.Is(err, session.ErrSessionExists):
		return c.Status(409).JSON(fiber.Map{"error": "session already exists"})
	default:
		log.Printf("[HTTP] internal error: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "internal error"})
	}
}

// ============================================================================
// CLI Mode
// ============================================================================

// runAnalyze pushes one turn through an ephemeral in-memory pipeline
// and prints the result. Auditing is off: this is a debugging tool.
func runAnalyze(text string) {
	cfg := config.NewDefaultConfig()
	cfg.SessionBackend = config.BackendMemory
	cfg.AuditBackend = config.AuditNone
	cfg.EnableSemantic = false

	pipe, err := NewPipeline(cfg)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	defer pipe.Close()

	ctx := context.Background()
	sess, err := pipe.manager.Init(ctx, "", "", nil)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	res, err := pipe.manager.Append(ctx, sess.ID, "user", text)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	fmt.Println(string(out))
}
