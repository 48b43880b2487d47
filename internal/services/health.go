package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus is a dependency or overall health value.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// Probe checks one dependency. A nil error means reachable.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// DependencyHealth is the result of one probe.
type DependencyHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	LatencyMS int64        `json:"latencyMs"`
	Error     string       `json:"error,omitempty"`
}

// HealthReport aggregates every probe.
type HealthReport struct {
	Overall      HealthStatus       `json:"overall"`
	Dependencies []DependencyHealth `json:"dependencies"`
	CheckedAt    time.Time          `json:"checkedAt"`
}

// HealthCheck probes the configured services plus any extra probes, each with
// the health timeout. Overall is healthy when every dependency is reachable,
// degraded when some are, unhealthy when none are.
func (c *Client) HealthCheck(ctx context.Context, extra ...Probe) HealthReport {
	probes := make([]Probe, 0, 2+len(extra))
	if c.contentBaseURL != "" {
		probes = append(probes, c.httpProbe(ServiceContent, c.contentBaseURL+"/health"))
	}
	if c.buildBaseURL != "" {
		probes = append(probes, c.httpProbe(ServiceSiteBuild, c.buildBaseURL+BuildHealthPath))
	}
	probes = append(probes, extra...)

	results := make([]DependencyHealth, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, c.healthTimeout)
			defer cancel()
			start := time.Now()
			err := p.Check(pctx)
			d := DependencyHealth{Name: p.Name, Status: Healthy, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				d.Status = Unhealthy
				d.Error = err.Error()
			}
			results[i] = d
			// Probe failures never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return HealthReport{
		Overall:      overall(results),
		Dependencies: results,
		CheckedAt:    c.now().UTC(),
	}
}

func overall(deps []DependencyHealth) HealthStatus {
	up := 0
	for _, d := range deps {
		if d.Status == Healthy {
			up++
		}
	}
	switch {
	case up == len(deps):
		return Healthy
	case up > 0:
		return Degraded
	default:
		return Unhealthy
	}
}

// httpProbe expects a 2xx and, when the body carries a status, "healthy" or "ok".
func (c *Client) httpProbe(name, endpoint string) Probe {
	return Probe{Name: name, Check: func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		c.decorate(ctx, req)
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &ServiceError{Service: name, Endpoint: "GET " + endpoint, StatusCode: resp.StatusCode,
				Message: errorMessage(body)}
		}
		var shaped struct {
			Status string `json:"status"`
		}
		if json.Unmarshal(body, &shaped) == nil && shaped.Status != "" {
			switch strings.ToLower(shaped.Status) {
			case "healthy", "ok", "up":
			default:
				return &ServiceError{Service: name, Endpoint: "GET " + endpoint, StatusCode: resp.StatusCode,
					Message: "reported status " + shaped.Status}
			}
		}
		return nil
	}}
}
