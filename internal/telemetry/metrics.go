package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики движка. Экспортируются на /metrics каждого сервиса.
var (
	// TransitionsFired — количество сработавших переходов.
	TransitionsFired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateflow",
		Name:      "transitions_fired_total",
		Help:      "Number of transitions fired by the engine.",
	})

	// GatewaysCompleted — завершённые слияния шлюзов по типу.
	GatewaysCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateflow",
		Name:      "gateways_completed_total",
		Help:      "Number of completed gateway merges by gateway type.",
	}, []string{"type"})

	// StaleArrivals — прибытия в уже завершённые поколения шлюзов.
	StaleArrivals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateflow",
		Name:      "stale_arrivals_total",
		Help:      "Number of gateway arrivals absorbed as stale.",
	})

	// BranchDeaths — зарегистрированные смерти веток.
	BranchDeaths = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateflow",
		Name:      "branch_deaths_total",
		Help:      "Number of registered branch deaths.",
	})

	// NodesExecuted — выполненные узлы по типу активности и статусу.
	NodesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateflow",
		Name:      "nodes_executed_total",
		Help:      "Number of node executions by activity type and outcome.",
	}, []string{"activity_type", "status"})

	// InstancesFinished — финализированные инстансы по статусу.
	InstancesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateflow",
		Name:      "instances_finished_total",
		Help:      "Number of finished process instances by final status.",
	}, []string{"status"})
)
