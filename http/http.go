package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// The time each server gets to drain in-flight requests on shutdown.
const shutdownTimeout = time.Second * 10

// ListenAndServe runs the given servers until the context is canceled, then
// drains them gracefully and returns.
func ListenAndServe(ctx context.Context, servers ...*http.Server) {
	var wg sync.WaitGroup

	for _, s := range servers {
		wg.Add(1)

		go func(s *http.Server) {
			defer wg.Done()
			serve(s)
		}(s)
	}

	go func() {
		<-ctx.Done()

		for _, s := range servers {
			shutdown(s)
		}
	}()

	wg.Wait()
}

func serve(s *http.Server) {
	logs.WithTag("addr", s.Addr).Info("serving")

	switch err := s.ListenAndServe(); err {
	case nil, http.ErrServerClosed, context.Canceled:
		logs.WithTag("addr", s.Addr).Info("server stopped")

	default:
		logs.Error(errors.New("server stopped").
			WithTag("addr", s.Addr).
			Wrap(err))
	}
}

func shutdown(s *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		logs.Warn(errors.New("draining server failed").
			WithTag("addr", s.Addr).
			Wrap(err))
	}
}

// MetricsPathFormatter is the path label formatter for request metrics. It
// blanks the label on statuses produced by unmatched or malformed requests
// so arbitrary request paths never become label values.
func MetricsPathFormatter(statusCode int, path string) string {
	switch statusCode {
	case http.StatusMovedPermanently,
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusMethodNotAllowed:
		return ""
	}

	return path
}
