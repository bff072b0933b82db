// Command voxcortex runs the incident-reasoning pipeline server: an HTTP
// ingest endpoint in front of the evidence/belief/explanation/promotion
// contract implemented under internal/.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vsenthil7/voxcortex/internal/audit"
	"github.com/vsenthil7/voxcortex/internal/config"
	"github.com/vsenthil7/voxcortex/internal/domain"
	"github.com/vsenthil7/voxcortex/internal/evidence"
	"github.com/vsenthil7/voxcortex/internal/hypothesis"
	"github.com/vsenthil7/voxcortex/internal/llm"
	"github.com/vsenthil7/voxcortex/internal/llm/modelpolicy"
	"github.com/vsenthil7/voxcortex/internal/locking"
	"github.com/vsenthil7/voxcortex/internal/logging"
	"github.com/vsenthil7/voxcortex/internal/observability"
	"github.com/vsenthil7/voxcortex/internal/pipeline"
	"github.com/vsenthil7/voxcortex/internal/policy"
	"github.com/vsenthil7/voxcortex/internal/promotion"
	"github.com/vsenthil7/voxcortex/internal/reasoner"
	"github.com/vsenthil7/voxcortex/internal/store"
	"github.com/vsenthil7/voxcortex/internal/voice"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[voxcortex] config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	ctx := logging.WithContext(context.Background(), logger)

	pool, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[voxcortex] store: %v", err)
	}
	logger.Info("store: connected and migrated")

	obs, err := observability.New(ctx, observability.DefaultConfig(), logger)
	if err != nil {
		log.Fatalf("[voxcortex] observability: %v", err)
	}
	defer func() { _ = obs.Shutdown(ctx) }()

	lock, err := locking.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("[voxcortex] locking: %v", err)
	}

	signer, err := evidence.NewSigner(cfg.EvidenceSigningKeyB64)
	if err != nil {
		log.Fatalf("[voxcortex] evidence signer: %v", err)
	}
	evidenceStore := evidence.NewStore(pool, signer, "voxcortex-pipeline")
	certIssuer := evidence.NewCertificateIssuer(signer)

	archiver, err := evidence.NewArchiver(ctx, cfg.EvidenceArchiveBackend, cfg.EvidenceArchiveBucket)
	if err != nil {
		log.Fatalf("[voxcortex] evidence archiver: %v", err)
	}

	var llmClient llm.Client
	if cfg.GeminiAPIKey != "" {
		llmClient = llm.NewGeminiClient(cfg.GeminiAPIKey)
	} else {
		logger.Warn("GEMINI_API_KEY/GOOGLE_API_KEY unset; reasoner calls will fail upstream")
		llmClient = llm.NewGeminiClient("")
	}
	enforcer := modelpolicy.NewEnforcer(1, 5)
	gate, err := policy.NewGate()
	if err != nil {
		log.Fatalf("[voxcortex] policy gate: %v", err)
	}
	auditSink := audit.NewSink(pool)
	hypothesisStore := hypothesis.NewStore(pool)
	reasonerGateway := reasoner.NewGateway(llmClient, cfg.GeminiModel, enforcer, gate, auditSink, hypothesisStore)

	promoter, err := promotion.NewPromoter(pool, cfg.PromotionPolicy.CELExpression)
	if err != nil {
		log.Fatalf("[voxcortex] promoter: %v", err)
	}

	synthesizer := voice.NewSynthesizer(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID)

	orchestrator := pipeline.NewOrchestrator(pool, lock, obs, evidenceStore, reasonerGateway, promoter, hypothesisStore)

	server := &Server{
		orchestrator: orchestrator,
		synthesizer:  synthesizer,
		certIssuer:   certIssuer,
		archiver:     archiver,
		logger:       logger,
	}

	mux := http.NewServeMux()
	server.Register(mux)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
		return 1
	}
	return 0
}

// Server exposes the pipeline over HTTP. The wire format for ingest is an
// external transport concern (spec.md §6 Non-goals): this is the thinnest
// adapter that turns a JSON POST body into a ProcessEvent call.
type Server struct {
	orchestrator *pipeline.Orchestrator
	synthesizer  voice.Synthesizer
	certIssuer   *evidence.CertificateIssuer
	archiver     evidence.Archiver
	logger       *slog.Logger
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/events", s.handleIngestEvent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type ingestEventRequest struct {
	TraceID    string                 `json:"trace_id"`
	Source     string                 `json:"source"`
	EventType  string                 `json:"event_type"`
	OccurredAt string                 `json:"occurred_at"`
	Severity   string                 `json:"severity"`
	Payload    map[string]interface{} `json:"payload"`
}

func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.TraceID == "" || req.Source == "" {
		http.Error(w, "trace_id and source are required", http.StatusBadRequest)
		return
	}

	result, err := s.orchestrator.ProcessEvent(r.Context(), req.TraceID, req.Source, req.EventType, req.OccurredAt, req.Severity, req.Payload)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "process event failed", "trace_id", req.TraceID, "error", err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	if err := s.archiver.Archive(r.Context(), result.Evidence.SHA256, []byte(result.Evidence.Payload)); err != nil {
		s.logger.WarnContext(r.Context(), "evidence archive failed", "trace_id", req.TraceID, "error", err)
	}

	chainHash, err := evidence.ChainHash([]domain.EvidenceSnapshot{result.Evidence})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "chain hash failed", "trace_id", req.TraceID, "error", err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}
	certificate, err := s.certIssuer.Issue(req.TraceID, []string{result.Evidence.EvidenceID}, chainHash, 24*time.Hour)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "certificate issuance failed", "trace_id", req.TraceID, "error", err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	audioBytes, err := s.synthesizer.Synthesize(r.Context(), result.Explanation.Explanation, result.Belief.Confidence)
	if err != nil {
		s.logger.WarnContext(r.Context(), "voice synthesis failed", "trace_id", req.TraceID, "error", err)
		audioBytes = nil
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ingestEventResponse{
		Result:          result,
		Certificate:     certificate,
		AudioByteLength: len(audioBytes),
	})
}

type ingestEventResponse struct {
	Result          pipeline.Result `json:"result"`
	Certificate     string          `json:"certificate"`
	AudioByteLength int             `json:"audio_byte_length"`
}
