package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

// AdminServer serves the relayer metrics and the live task table over HTTP.
type AdminServer struct {
	logger  *zap.SugaredLogger
	relayer *Relayer
	server  *http.Server
}

type taskView struct {
	Sender      string            `json:"sender"`
	Nonce       uint64            `json:"nonce"`
	AssetID     string            `json:"assetId"`
	OriginChain string            `json:"originChain"`
	Members     []string          `json:"members"`
	Pending     []string          `json:"pending"`
	Heights     map[string]uint64 `json:"heights"`
}

func NewAdminServer(listen string, relayer *Relayer, logger *zap.SugaredLogger) *AdminServer {
	s := &AdminServer{
		logger:  logger.Named("admin"),
		relayer: relayer,
	}
	s.server = &http.Server{
		Addr:              listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *AdminServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.relayer.Metrics().Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/tasks", s.HandleTasks()).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{sender}", s.HandleTasks()).Methods(http.MethodGet)
	return r
}

// HandleTasks lists the pending tasks, optionally only those of one sender.
func (s *AdminServer) HandleTasks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sender := mux.Vars(r)["sender"]

		views := make([]taskView, 0)
		for _, entry := range s.relayer.PendingTasks() {
			if sender != "" && entry.Key.Sender != sender {
				continue
			}
			views = append(views, newTaskView(entry))
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(views); err != nil {
			s.logger.Warnf("failed to write tasks response: %v", err)
		}
	}
}

func newTaskView(entry *types.PendingEntry) taskView {
	members := make([]string, 0, len(entry.Members))
	for _, m := range entry.Members {
		members = append(members, m.ChainID)
	}
	return taskView{
		Sender:      entry.Key.Sender,
		Nonce:       entry.Key.Nonce,
		AssetID:     entry.Key.AssetID,
		OriginChain: entry.OriginChain,
		Members:     members,
		Pending:     entry.Pending,
		Heights:     entry.Heights,
	}
}

func (s *AdminServer) Start() {
	go func() {
		s.logger.Infof("admin server listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("admin server stopped: %v", err)
		}
	}()
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
