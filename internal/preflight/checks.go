package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"paperpipe/internal/config"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// statfs is swapped in tests.
var statfs = func(path string) (total, free uint64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	bsize := uint64(stat.Bsize)
	return stat.Blocks * bsize, stat.Bavail * bsize, nil
}

// CheckFreeSpace verifies that the filesystem holding path has at least min
// bytes available.
func CheckFreeSpace(name, path string, min uint64) Result {
	total, free, err := statfs(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	detail := fmt.Sprintf("%s free of %s", humanize.IBytes(free), humanize.IBytes(total))
	if free < min {
		return Result{Name: name, Detail: fmt.Sprintf("%s (need %s)", detail, humanize.IBytes(min))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckSource verifies the configured listing endpoint: a GET for http(s)
// endpoints, a stat for file paths. It makes a single attempt.
func CheckSource(ctx context.Context, cfg *config.Config) Result {
	const name = "Source"

	endpoint := strings.TrimSpace(cfg.Source.URL)
	if endpoint == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if _, err := os.Stat(endpoint); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", endpoint, err)}
		}
		return Result{Name: name, Passed: true, Detail: endpoint + " (file)"}
	}

	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("request failed (%v)", err)}
	}
	if ua := strings.TrimSpace(cfg.Source.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("reachable (%s)", cfg.Source.Adapter)}
	}
	return Result{Name: name, Detail: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out (listing unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "request timed out (listing unreachable)"
	}
	return err.Error()
}
