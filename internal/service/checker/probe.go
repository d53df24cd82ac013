package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/alarm-quorum/internal/api/grpc/health"
	"github.com/oshokin/alarm-quorum/internal/service/common"
)

// errUnexpectedStatus is returned when the admin endpoint does not answer 200.
var errUnexpectedStatus = errors.New("unexpected admin status")

// Report is the outcome of one probe round.
type Report struct {
	// Serving is the gRPC health status; nil when health is not probed.
	Serving *bool
	// Alarm is the admin endpoint snapshot; nil when the endpoint is not probed.
	Alarm *common.AlarmStatus
}

// Healthy tells whether every probed endpoint answered and health is SERVING.
func (r Report) Healthy() bool {
	return r.Serving == nil || *r.Serving
}

// probe queries the host's health and admin endpoints.
type probe struct {
	// health is nil when no health address is configured.
	health     healthpb.HealthClient
	conn       *grpc.ClientConn
	alarmURL   string
	httpClient *http.Client
	timeout    time.Duration
}

// newProbe prepares clients for the configured endpoints. Empty addresses
// are skipped.
func newProbe(healthAddress, adminAddress string, timeout time.Duration) (*probe, error) {
	p := &probe{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}

	if healthAddress != "" {
		conn, err := grpc.NewClient(common.DialableAddress(healthAddress),
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("dial health: %w", err)
		}

		p.conn = conn
		p.health = healthpb.NewHealthClient(conn)
	}

	if adminAddress != "" {
		p.alarmURL = "http://" + common.DialableAddress(adminAddress) + "/alarm"
	}

	return p, nil
}

// Close releases the gRPC connection.
func (p *probe) Close() error {
	if p.conn == nil {
		return nil
	}

	return p.conn.Close()
}

// check runs one probe round. A failing endpoint fails the round.
func (p *probe) check(ctx context.Context) (Report, error) {
	var report Report

	if p.health != nil {
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		resp, err := p.health.Check(callCtx, &healthpb.HealthCheckRequest{Service: health.ServiceName})

		cancel()

		if err != nil {
			return report, fmt.Errorf("check health: %w", err)
		}

		serving := resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
		report.Serving = &serving
	}

	if p.alarmURL != "" {
		status, err := p.fetchAlarm(ctx)
		if err != nil {
			return report, err
		}

		report.Alarm = status
	}

	return report, nil
}

// fetchAlarm reads GET /alarm.
func (p *probe) fetchAlarm(ctx context.Context) (*common.AlarmStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.alarmURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build alarm request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch alarm: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", errUnexpectedStatus, resp.Status)
	}

	var status common.AlarmStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode alarm: %w", err)
	}

	return &status, nil
}
