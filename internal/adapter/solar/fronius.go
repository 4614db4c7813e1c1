package solar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/berfenger/pvheat/internal/core/domain"
	"github.com/berfenger/pvheat/internal/core/port"

	"github.com/carlmjohnson/versioninfo"
)

const (
	froniusPowerFlowPath = "/solar_api/v1/GetPowerFlowRealtimeData.fcgi"
	froniusStoragePath   = "/solar_api/v1/GetStorageRealtimeData.cgi"
)

var errFroniusNoStorage = errors.New("fronius: no storage data for device 0")

// FroniusSource polls the Fronius Solar API v1 of the inverter.
type FroniusSource struct {
	ReservationPolicy
	export bool

	baseURL string
	client  *http.Client
	now     func() time.Time
}

type froniusPowerFlowResponse struct {
	Body struct {
		Data struct {
			Site struct {
				PV   *float64 `json:"P_PV"`
				Grid *float64 `json:"P_Grid"`
				Akku *float64 `json:"P_Akku"`
				Load *float64 `json:"P_Load"`
			} `json:"Site"`
		} `json:"Data"`
	} `json:"Body"`
}

type froniusStorageResponse struct {
	Body struct {
		Data map[string]struct {
			Controller struct {
				StateOfCharge *float64 `json:"StateOfCharge_Relative"`
			} `json:"Controller"`
		} `json:"Data"`
	} `json:"Body"`
}

func NewFroniusSource(baseURL string, timeout time.Duration, export bool, policy ReservationPolicy) *FroniusSource {
	if policy == nil {
		policy = FixedReservation(0)
	}
	return &FroniusSource{
		ReservationPolicy: policy,
		export:            export,
		baseURL:           strings.TrimSuffix(baseURL, "/"),
		client:            httpClient(timeout),
		now:               time.Now,
	}
}

func (s *FroniusSource) SupportsExport() bool {
	return s.export
}

func (s *FroniusSource) Snapshot(ctx context.Context) (domain.PowerSnapshot, error) {
	var flow froniusPowerFlowResponse
	if err := s.get(ctx, froniusPowerFlowPath, &flow); err != nil {
		return domain.PowerSnapshot{}, err
	}
	var storage froniusStorageResponse
	if err := s.get(ctx, froniusStoragePath, &storage); err != nil {
		return domain.PowerSnapshot{}, err
	}

	site := flow.Body.Data.Site
	snapshot := domain.PowerSnapshot{
		Time:        s.now(),
		PVWatt:      valueOrZero(site.PV),
		GridWatt:    valueOrZero(site.Grid),
		BatteryWatt: valueOrZero(site.Akku),
		// P_Load is reported negative for consumption
		LoadWatt: -valueOrZero(site.Load),
	}
	battery, ok := storage.Body.Data["0"]
	if !ok {
		return domain.PowerSnapshot{}, errFroniusNoStorage
	}
	snapshot.ChargePercent = valueOrZero(battery.Controller.StateOfCharge)
	return snapshot, nil
}

func (s *FroniusSource) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	res, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fronius: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("fronius: %s returned %s", path, res.Status)
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("fronius: decoding %s: %w", path, err)
	}
	return nil
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

func httpClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: "pvheat/" + versioninfo.Short(),
		},
		Timeout: timeout,
	}
}

var _ port.TelemetrySource = (*FroniusSource)(nil)
