package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/formahead/docproc/internal/service"
)

const statusGaugeRefreshInterval = 30 * time.Second

type MetricServer struct {
	bindAddress string
	httpServer  *http.Server
	listener    net.Listener
	documentSrv *service.DocumentService
}

func NewMetricServer(bindAddress string, listener net.Listener, documentSrv *service.DocumentService) *MetricServer {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())

	return &MetricServer{
		bindAddress: bindAddress,
		listener:    listener,
		documentSrv: documentSrv,
		httpServer: &http.Server{
			Addr:    bindAddress,
			Handler: router,
		},
	}
}

func (m *MetricServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		m.httpServer.SetKeepAlivesEnabled(false)
		_ = m.httpServer.Shutdown(ctxTimeout)
		zap.S().Named("metrics_server").Info("metrics server terminated")
	}()

	// keep the per-status document gauges current
	ticker := time.NewTicker(statusGaugeRefreshInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := m.documentSrv.Statistics(ctx); err != nil {
					zap.S().Named("metrics_server").Warnw("failed to refresh status gauges", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	zap.S().Named("metrics_server").Infof("serving metrics: %s", m.bindAddress)
	if err := m.httpServer.Serve(m.listener); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
