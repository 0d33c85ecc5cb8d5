package health

import (
	"context"
	"maps"
	"slices"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates that no deployment can serve.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status   Status
	Checks   map[string]CheckResult
	Datasets int // deployments with a live snapshot
}

// Service coordinates health checks.
type Service struct {
	db          DBPinger
	embedders   map[string]EmbeddingChecker
	deployments Deployments
}

// New creates a Service. db and deployments can be nil; embedders is keyed by vectorizer name.
func New(db DBPinger, embedders map[string]EmbeddingChecker, deployments Deployments) *Service {
	return &Service{db: db, embedders: embedders, deployments: deployments}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if s.db != nil {
		checks["database"] = result(s.db.Ping(ctx))
	}

	for _, name := range slices.Sorted(maps.Keys(s.embedders)) {
		checks["embedding:"+name] = result(s.embedders[name].HealthCheck(ctx))
	}

	ready := 0
	total := 0
	if s.deployments != nil {
		for _, name := range s.deployments.Names() {
			total++
			if s.deployments.Ready(name) {
				ready++
				checks["index:"+name] = CheckOK
			} else {
				checks["index:"+name] = CheckError
			}
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if total > 0 && ready == 0 {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks, Datasets: ready}
}

func result(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}
