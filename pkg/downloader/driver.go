// Package downloader supervises one downloader subprocess per download job
// and translates its text stream into job progress.
package downloader

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/signagekit/transferd/pkg/jobstore"
)

// progressWriteInterval throttles synchronous store writes: yt-dlp emits
// many progress lines per second and each store update hits disk.
const progressWriteInterval = 500 * time.Millisecond

// Driver runs exactly one subprocess per download job and guarantees the
// job always reaches a terminal state.
type Driver struct {
	store    *jobstore.Store
	binary   string
	mediaDir string
	parser   ProgressParser
	log      *zap.Logger

	mu      sync.Mutex
	running map[string]*exec.Cmd
}

// New builds a Driver invoking the given downloader binary. A nil parser
// defaults to the yt-dlp strategy.
func New(store *jobstore.Store, binary, mediaDir string, parser ProgressParser, log *zap.Logger) *Driver {
	if parser == nil {
		parser = YTDLPParser{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		store:    store,
		binary:   binary,
		mediaDir: mediaDir,
		parser:   parser,
		log:      log,
		running:  make(map[string]*exec.Cmd),
	}
}

// Run executes the subprocess for jobID and blocks until the job is
// terminal. The caller (admission controller) owns the goroutine; Run never
// returns with the job still pending or active.
func (d *Driver) Run(ctx context.Context, jobID string) error {
	job, err := d.store.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	cmd := exec.CommandContext(ctx, d.binary, d.buildArgs(job)...)

	// Single combined stream: yt-dlp reports progress on stdout and errors
	// on stderr, and the parser handles both line formats.
	pr, pw, err := os.Pipe()
	if err != nil {
		d.fail(jobID, fmt.Sprintf("open output pipe: %v", err))
		return err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		d.fail(jobID, fmt.Sprintf("start %s: %v", d.binary, err))
		return err
	}
	_ = pw.Close()

	d.mu.Lock()
	d.running[jobID] = cmd
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.running, jobID)
		d.mu.Unlock()
	}()

	d.log.Info("downloader started",
		zap.String("job_id", jobID),
		zap.String("url", job.SourceURL),
		zap.Int("pid", cmd.Process.Pid))

	errText := d.consumeOutput(jobID, pr)
	_ = pr.Close()
	waitErr := cmd.Wait()

	if errText != "" {
		d.fail(jobID, errText)
		return nil
	}

	// Exit code alone is not trusted: require the output file on disk.
	resultPath, found := d.findOutput(jobID)
	if !found {
		reason := "no output produced"
		if waitErr != nil {
			reason = fmt.Sprintf("downloader exited: %v", waitErr)
		}
		d.fail(jobID, reason)
		return nil
	}

	now := time.Now()
	if _, err := d.store.Update(jobID, func(j *jobstore.Job) {
		j.MarkCompleted(resultPath, now)
	}); err != nil {
		return err
	}
	d.log.Info("download completed",
		zap.String("job_id", jobID),
		zap.String("result_path", resultPath))
	return nil
}

// consumeOutput scans the combined stream line by line until EOF. It
// returns the first explicit error marker seen, or "".
func (d *Driver) consumeOutput(jobID string, r *os.File) string {
	limiter := rate.NewLimiter(rate.Every(progressWriteInterval), 1)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	errText := ""
	for scanner.Scan() {
		ev := d.parser.ParseLine(scanner.Text())
		switch {
		case ev.ErrorText != "":
			if errText == "" {
				errText = ev.ErrorText
				// Fail immediately, independent of the eventual exit code.
				d.fail(jobID, errText)
				d.signal(jobID, syscall.SIGTERM)
			}
		case ev.HasPercent:
			// The store ignores regressions, so dropped or reordered lines
			// cannot move progress backward. Unthrottled 100% writes keep
			// the final observation exact.
			if ev.Percent >= 100 || limiter.Allow() {
				pct := ev.Percent
				_, _ = d.store.Update(jobID, func(j *jobstore.Job) {
					j.Progress = pct
				})
			}
		}
	}
	return errText
}

// Cancel terminates the subprocess if still running and records the job as
// failed with the Cancelled reason. Cancelling a terminal job is a no-op.
func (d *Driver) Cancel(jobID string) error {
	job, err := d.store.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	d.fail(jobID, jobstore.ReasonCancelled)
	d.signal(jobID, syscall.SIGTERM)
	d.log.Info("download cancelled", zap.String("job_id", jobID))
	return nil
}

func (d *Driver) signal(jobID string, sig syscall.Signal) {
	d.mu.Lock()
	cmd := d.running[jobID]
	d.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(sig)
	}
}

// fail records a terminal failure. The store's terminal guard makes this a
// no-op when another writer (e.g. Cancel) got there first.
func (d *Driver) fail(jobID, reason string) {
	now := time.Now()
	if _, err := d.store.Update(jobID, func(j *jobstore.Job) {
		j.MarkFailed(reason, now)
	}); err != nil {
		d.log.Warn("record download failure", zap.String("job_id", jobID), zap.Error(err))
	}
}

// findOutput locates the downloaded file: the output template names every
// result <job id>.<ext>, so a prefix scan of the media dir suffices.
func (d *Driver) findOutput(jobID string) (string, bool) {
	entries, err := os.ReadDir(d.mediaDir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, jobID+".") {
			continue
		}
		// Skip partial artifacts left by an interrupted downloader.
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}
		return filepath.Join(d.mediaDir, name), true
	}
	return "", false
}

func (d *Driver) buildArgs(job *jobstore.Job) []string {
	return []string{
		"--newline",
		"--no-playlist",
		"--restrict-filenames",
		"-f", formatFor(job.Quality),
		"-P", d.mediaDir,
		"-o", job.ID + ".%(ext)s",
		job.SourceURL,
	}
}

// formatFor maps the requested quality to a yt-dlp format selector.
func formatFor(quality string) string {
	q := strings.ToLower(strings.TrimSpace(quality))
	switch q {
	case "", "best":
		return "bv*+ba/b"
	case "audio":
		return "ba/b"
	}
	digits := ""
	for _, c := range q {
		if c >= '0' && c <= '9' {
			digits += string(c)
		} else if digits != "" {
			break
		}
	}
	if digits == "" {
		return "bv*+ba/b"
	}
	return fmt.Sprintf("bv*[height<=%s]+ba/b[height<=%s]", digits, digits)
}
