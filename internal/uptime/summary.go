package uptime

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"
)

var processStart = time.Now()

// ServiceAvailability is one service's availability figures at 24h/7d/30d
// windows alongside its currently observed state.
type ServiceAvailability struct {
	ServiceName     string  `json:"service_name"`
	Availability24h float64 `json:"availability_24h"`
	Availability7d  float64 `json:"availability_7d"`
	Availability30d float64 `json:"availability_30d"`
	CurrentStatus   string  `json:"current_status"`
}

// Summary is the combined /vault/system/uptime response: OS + process
// uptime plus per-service availability and a 24h incident count.
type Summary struct {
	OSUptimeSeconds  float64                `json:"os_uptime_seconds"`
	APIUptimeSeconds float64                `json:"api_uptime_seconds"`
	Services         []ServiceAvailability  `json:"services"`
	Incidents24h     int                    `json:"incidents_24h"`
}

// OSUptimeSeconds reads /proc/uptime. Off Linux (no such file) it returns 0,
// matching the degrade-gracefully contract the rest of this subsystem uses.
func OSUptimeSeconds() float64 {
	raw, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return v
}

// APIUptimeSeconds is seconds elapsed since this process's uptime package
// was first loaded.
func APIUptimeSeconds() float64 {
	return time.Since(processStart).Seconds()
}

// GetSummary computes the full dashboard payload: OS/API uptime plus, for
// every managed service, availability over the fixed 24h/7d/30d ladder
// spec §4.5 calls for.
func (m *Monitor) GetSummary(ctx context.Context) (Summary, error) {
	lastState := m.LastState()

	var services []ServiceAvailability
	incidents := 0
	for _, svc := range m.mgr.ManagedServices() {
		avail24, err := m.store.Availability(ctx, svc, time.Now().UTC().Add(-24*time.Hour))
		if err != nil {
			return Summary{}, err
		}
		avail7d, err := m.store.Availability(ctx, svc, time.Now().UTC().Add(-7*24*time.Hour))
		if err != nil {
			return Summary{}, err
		}
		avail30d, err := m.store.Availability(ctx, svc, time.Now().UTC().Add(-30*24*time.Hour))
		if err != nil {
			return Summary{}, err
		}

		current := lastState[svc]
		if current == "" {
			current = string(stateUnknown)
		}

		services = append(services, ServiceAvailability{
			ServiceName:     svc,
			Availability24h: round4(avail24),
			Availability7d:  round4(avail7d),
			Availability30d: round4(avail30d),
			CurrentStatus:   current,
		})

		events, err := m.store.ListUptimeEvents(ctx, svc, time.Now().UTC().Add(-24*time.Hour))
		if err != nil {
			return Summary{}, err
		}
		for _, e := range events {
			if e.EventType == "down" {
				incidents++
			}
		}
	}

	return Summary{
		OSUptimeSeconds:  OSUptimeSeconds(),
		APIUptimeSeconds: APIUptimeSeconds(),
		Services:         services,
		Incidents24h:     incidents,
	}, nil
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
