package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oshokin/alarm-quorum/internal/host"
	"github.com/oshokin/alarm-quorum/internal/logger"
	"github.com/oshokin/alarm-quorum/internal/service/common"
)

const (
	// adminReadHeaderTimeout bounds slow clients of the admin endpoint.
	adminReadHeaderTimeout = 5 * time.Second
	// adminShutdownTimeout bounds the graceful shutdown of the admin endpoint.
	adminShutdownTimeout = 5 * time.Second
)

// admin serves the HTTP endpoints of the host.
type admin struct {
	host *host.Host
	now  func() time.Time
}

// newAdminRouter mounts /metrics, /healthz and /alarm.
func newAdminRouter(h *host.Host, gatherer prometheus.Gatherer) *mux.Router {
	a := &admin{host: h, now: time.Now}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/alarm", a.handleAlarm).Methods(http.MethodGet)

	return router
}

// handleHealthz answers 200 while the host runs.
func (a *admin) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// handleAlarm reports the coordinator state and the connected peers.
func (a *admin) handleAlarm(w http.ResponseWriter, r *http.Request) {
	state := a.host.Coordinator().State()

	status := common.AlarmStatus{
		Active:       state.Active,
		Acknowledged: state.AcknowledgedPeers(),
		Members:      a.host.Registry().Members(),
	}

	if state.Current != nil {
		next := state.Current.Next(a.now())
		status.Alarm = state.Current.String()
		status.NextTrigger = &next
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(status); err != nil {
		logger.WarnKV(r.Context(), "Writing alarm status failed", "error", err)
	}
}

// serveAdmin runs handler on lis until ctx is done.
func serveAdmin(ctx context.Context, lis net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: adminReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	// Done channel is closed after Shutdown finishes so the caller does not
	// return while requests are still being answered.
	done := make(chan struct{})

	go func() {
		defer close(done)

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), adminShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WarnKV(ctx, "Admin server shutdown failed", "error", err)
		}
	}()

	logger.InfoKV(ctx, "Admin server listening", "address", lis.Addr().String())

	if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve admin: %w", err)
	}

	<-done

	return nil
}
