package registry

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	operationLabel = "operation"
	errTypeLabel   = "error_type"
)

var (
	volumeCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "volume_count",
		Help: "The number of registered flight volumes.",
	})

	mutationCountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mutation_count_total",
		Help: "The total number of registry mutations.",
	}, []string{
		operationLabel,
		errTypeLabel,
	})

	queryCountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "query_count_total",
		Help: "The total number of range queries.",
	})
)

func instrumentMutation(operation string, err error) {
	var errType string
	if err != nil {
		errType = errors.Type(err)
	}

	mutationCountTotal.
		With(prometheus.Labels{
			operationLabel: operation,
			errTypeLabel:   errType,
		}).
		Inc()
}

func instrumentVolumeCount(count int) {
	volumeCount.Set(float64(count))
}

func instrumentQuery() {
	queryCountTotal.Inc()
}
