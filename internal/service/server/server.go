package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"sealed_chat/internal/config"
	"sealed_chat/internal/model"
	"sealed_chat/internal/service/certificate"
	"sealed_chat/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const DefaultCleanupInterval = 10 * time.Minute

type (
	UserStore interface {
		GetByName(ctx context.Context, name string) (*model.User, error)
	}

	MessageQueue interface {
		RPush(ctx context.Context, key string, value ...any) error
		Drain(ctx context.Context, key string) ([]string, error)
	}

	Options struct {
		Addr            string
		Admin           config.AdminConfig
		CleanupInterval time.Duration
	}

	HttpServer struct {
		opts      Options
		authority *certificate.Authority
		userRepo  UserStore
		queue     MessageQueue

		mu     sync.RWMutex
		mapper map[string]*wsClient
	}

	// wsClient serializes writes; gorilla connections allow one writer.
	wsClient struct {
		conn *websocket.Conn
		mu   sync.Mutex
	}
)

func NewHttpServer(authority *certificate.Authority, userRepo UserStore, queue MessageQueue, opts Options) *HttpServer {
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	return &HttpServer{
		opts:      opts,
		authority: authority,
		userRepo:  userRepo,
		queue:     queue,
		mapper:    make(map[string]*wsClient),
	}
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/init", s.HandleInitWS()).Methods(http.MethodGet)
	r.HandleFunc("/keys/{name}", s.GetSharedKeysOfUser()).Methods(http.MethodGet)

	r.HandleFunc("/certificates", s.RequestCertificate()).Methods(http.MethodPost)
	r.HandleFunc("/certificates/verify", s.VerifyCertificate()).Methods(http.MethodPost)
	r.HandleFunc("/certificates/public-key", s.GetServerPublicKey()).Methods(http.MethodGet)
	r.HandleFunc("/certificates/revoked", s.ListRevokedCertificates()).Methods(http.MethodGet)
	r.HandleFunc("/certificates/{id}", s.requireAdmin(s.RevokeCertificate())).Methods(http.MethodDelete)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HttpServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.cleanupLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", s.opts.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.closeConnections()
	return srv.Shutdown(shutdownCtx)
}

func (s *HttpServer) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.authority.CleanupExpired(); n > 0 {
				log.Debug("evicted expired certificates", zap.Int("count", n))
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("encode response failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
