package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/adrper79-dot/callmonitor/pkg/config"
	"github.com/adrper79-dot/callmonitor/pkg/db"
	"github.com/adrper79-dot/callmonitor/pkg/domain"
	"github.com/adrper79-dot/callmonitor/pkg/httpx"
	"github.com/adrper79-dot/callmonitor/services/evidence/internal/engine"
	"github.com/adrper79-dot/callmonitor/services/evidence/internal/idempotency"
	"github.com/adrper79-dot/callmonitor/services/evidence/internal/store"
	"github.com/adrper79-dot/callmonitor/services/evidence/internal/tsa"
	"github.com/adrper79-dot/callmonitor/services/evidence/internal/webhooks"
)

type actorContext struct {
	OrganizationID string `json:"organization_id"`
	ActorID        string `json:"actor_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (a actorContext) toIdem() idempotency.ActorContext {
	return idempotency.ActorContext{
		OrganizationID: a.OrganizationID,
		ActorID:        a.ActorID,
		IdempotencyKey: a.IdempotencyKey,
	}
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := db.MustConnect(ctx, cfg.Database.URL)
	defer pool.Close()
	st := store.New(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		log.Error("schema setup failed", "err", err)
		os.Exit(1)
	}

	var queue engine.TimestampQueue
	if cfg.TSA.Endpoint != "" {
		worker := tsa.NewWorker(tsa.NewClient(cfg.TSA, nil), st, cfg.TSA.QueueSize, log)
		worker.Start(ctx)
		defer worker.Stop()
		queue = worker
		log.Info("timestamp authority configured", "mode", cfg.TSA.Mode, "endpoint", cfg.TSA.Endpoint)
	} else {
		log.Info("no timestamp authority configured, bundles will carry tsa_status=not_configured")
	}

	eng := engine.New(st, queue, log)
	ingress := webhooks.NewIngressHandler(st, eng, log)

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Post("/webhooks/{provider}/{endpoint_token}", ingress.HandleIngress)

	r.Route("/evidence", func(api chi.Router) {

		api.Post("/calls/{call_id}/manifests", func(w http.ResponseWriter, r *http.Request) {
			callID := chi.URLParam(r, "call_id")
			var req struct {
				ActorContext actorContext `json:"actor_context"`
				RecordingID  string       `json:"recording_id"`
				ScoreID      string       `json:"score_id"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if req.RecordingID == "" {
				httpx.WriteError(w, 400, "BAD_REQUEST", "recording_id is required", nil)
				return
			}

			endpoint := "POST /evidence/calls/{call_id}/manifests"
			if status, body, ok := replay(r, st, req.ActorContext, endpoint); ok {
				httpx.WriteJSON(w, status, body)
				return
			}

			manifestID, err := eng.GenerateEvidenceManifest(r.Context(), callID, req.RecordingID, req.ActorContext.OrganizationID, req.ScoreID)
			if err != nil {
				httpx.WriteDomainError(w, err, req.RecordingID)
				return
			}
			bundleID, err := eng.EnsureEvidenceBundle(r.Context(), manifestID)
			if err != nil {
				httpx.WriteDomainError(w, err, manifestID)
				return
			}
			m, err := st.GetManifest(r.Context(), manifestID)
			if err != nil {
				httpx.WriteDomainError(w, err, manifestID)
				return
			}
			resp := map[string]any{
				"request_id":  httpx.NewRequestID(),
				"manifest":    m,
				"manifest_id": manifestID,
				"bundle_id":   bundleID,
			}
			save(r, log, st, req.ActorContext, endpoint, 201, resp)
			httpx.WriteJSON(w, 201, resp)
		})

		api.Get("/recordings/{recording_id}/manifest", func(w http.ResponseWriter, r *http.Request) {
			recordingID := chi.URLParam(r, "recording_id")
			m, err := st.LiveManifestByRecording(r.Context(), recordingID)
			if err != nil {
				httpx.WriteDomainError(w, err, recordingID)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "manifest": m})
		})

		api.Get("/recordings/{recording_id}/manifests", func(w http.ResponseWriter, r *http.Request) {
			recordingID := chi.URLParam(r, "recording_id")
			ms, err := st.ListManifestsByRecording(r.Context(), recordingID)
			if err != nil {
				httpx.WriteDomainError(w, err, recordingID)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "manifests": ms})
		})

		api.Get("/manifests/{manifest_id}", func(w http.ResponseWriter, r *http.Request) {
			manifestID := chi.URLParam(r, "manifest_id")
			m, err := st.GetManifest(r.Context(), manifestID)
			if err != nil {
				httpx.WriteDomainError(w, err, manifestID)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "manifest": m})
		})

		api.Get("/manifests/{manifest_id}/bundle", func(w http.ResponseWriter, r *http.Request) {
			manifestID := chi.URLParam(r, "manifest_id")
			b, err := st.LiveBundleByManifest(r.Context(), manifestID)
			if err != nil {
				httpx.WriteDomainError(w, err, manifestID)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "bundle": b})
		})

		api.Post("/manifests/{manifest_id}/bundle", func(w http.ResponseWriter, r *http.Request) {
			manifestID := chi.URLParam(r, "manifest_id")
			var req struct {
				ActorContext actorContext `json:"actor_context"`
			}
			// An empty body is fine here: the manifest id in the path is the
			// whole input.
			if err := httpx.ReadJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}

			endpoint := "POST /evidence/manifests/{manifest_id}/bundle"
			if status, body, ok := replay(r, st, req.ActorContext, endpoint); ok {
				httpx.WriteJSON(w, status, body)
				return
			}

			bundleID, err := eng.EnsureEvidenceBundle(r.Context(), manifestID)
			if err != nil {
				httpx.WriteDomainError(w, err, manifestID)
				return
			}
			b, err := st.GetBundle(r.Context(), bundleID)
			if err != nil {
				httpx.WriteDomainError(w, err, bundleID)
				return
			}
			resp := map[string]any{"request_id": httpx.NewRequestID(), "bundle": b}
			save(r, log, st, req.ActorContext, endpoint, 201, resp)
			httpx.WriteJSON(w, 201, resp)
		})

		api.Get("/bundles/{bundle_id}", func(w http.ResponseWriter, r *http.Request) {
			bundleID := chi.URLParam(r, "bundle_id")
			b, err := st.GetBundle(r.Context(), bundleID)
			if err != nil {
				httpx.WriteDomainError(w, err, bundleID)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "bundle": b})
		})

		api.Post("/recordings/{recording_id}/transcript-versions", func(w http.ResponseWriter, r *http.Request) {
			recordingID := chi.URLParam(r, "recording_id")
			var req struct {
				ActorContext actorContext    `json:"actor_context"`
				Payload      json.RawMessage `json:"transcript_payload"`
				ProducedBy   string          `json:"produced_by"`
				Model        string          `json:"produced_by_model"`
				UserID       string          `json:"produced_by_user_id"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if len(req.Payload) == 0 {
				httpx.WriteError(w, 400, "BAD_REQUEST", "transcript_payload is required", nil)
				return
			}

			endpoint := "POST /evidence/recordings/{recording_id}/transcript-versions"
			if status, body, ok := replay(r, st, req.ActorContext, endpoint); ok {
				httpx.WriteJSON(w, status, body)
				return
			}

			id, version, err := eng.CreateTranscriptVersion(r.Context(), recordingID, req.ActorContext.OrganizationID, req.Payload, engine.TranscriptOpts{
				ProducedBy: domain.Producer(req.ProducedBy),
				Model:      req.Model,
				UserID:     req.UserID,
			})
			if err != nil {
				httpx.WriteDomainError(w, err, recordingID)
				return
			}
			resp := map[string]any{
				"request_id":            httpx.NewRequestID(),
				"transcript_version_id": id,
				"version":               version,
			}
			save(r, log, st, req.ActorContext, endpoint, 201, resp)
			httpx.WriteJSON(w, 201, resp)
		})

		api.Get("/recordings/{recording_id}/transcript-versions", func(w http.ResponseWriter, r *http.Request) {
			recordingID := chi.URLParam(r, "recording_id")
			tvs, err := st.ListTranscriptVersions(r.Context(), recordingID)
			if err != nil {
				httpx.WriteDomainError(w, err, recordingID)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "transcript_versions": tvs})
		})
	})

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: r}
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("evidence service listening", "port", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
	// Wait out the drain window so in-flight handlers finish before the
	// deferred worker.Stop closes the timestamp queue they may enqueue on.
	<-shutdownDone
}

// replay answers a repeated mutating request with its stored response. A
// lookup failure degrades to processing the request fresh; idempotency is a
// convenience layer over an engine that is already idempotent.
func replay(r *http.Request, st *store.Store, actor actorContext, endpoint string) (int, map[string]any, bool) {
	status, body, replayed, err := idempotency.Replay(r.Context(), st, actor.toIdem(), endpoint)
	if err != nil || !replayed {
		return 0, nil, false
	}
	return status, body, true
}

func save(r *http.Request, log *slog.Logger, st *store.Store, actor actorContext, endpoint string, status int, resp map[string]any) {
	if err := idempotency.Save(r.Context(), st, actor.toIdem(), endpoint, status, resp); err != nil {
		log.WarnContext(r.Context(), "could not store idempotency record", "endpoint", endpoint, "err", err)
	}
}
