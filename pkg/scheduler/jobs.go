package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Shavakan/masterlock/pkg/config"
	"github.com/Shavakan/masterlock/pkg/logging"
)

// HTTPJob calls url on every run and fails on transport errors or non-2xx
// responses. An empty method means POST.
func HTTPJob(client *http.Client, method, url string) JobFunc {
	if method == "" {
		method = http.MethodPost
	}
	method = strings.ToUpper(method)

	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("User-Agent", "masterlock-scheduler")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to call %s: %w", url, err)
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, config.MaxBodySize))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("%s %s returned status %d", method, url, resp.StatusCode)
		}
		return nil
	}
}

// LogJob only records that it ran.
func LogJob(name string) JobFunc {
	return func(context.Context) error {
		schedLog.Info("job tick", slog.String(logging.KeyJobName, name))
		return nil
	}
}

// Register adds every configured job to s.
func Register(s *CronScheduler, client *http.Client, jobs []config.JobConfig) error {
	for _, jc := range jobs {
		fn := LogJob(jc.Name)
		if jc.URL != "" {
			fn = HTTPJob(client, jc.Method, jc.URL)
		}
		if err := s.AddJob(jc.Name, jc.Schedule, jc.Timeout, fn); err != nil {
			return err
		}
	}
	return nil
}
