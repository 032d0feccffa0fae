package recording

import (
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pitchtracker/internal/eventbus"
)

// freeBytes reports the free space available to an unprivileged process on
// the filesystem containing path. syscall.Statfs is used directly: none of
// the corpus's dependencies (toml, jwt, uuid, websocket, prometheus, zap,
// gocv, sqlite) expose a disk-space primitive, and this targets the same
// Linux/V4L2 deployment surface as internal/capture's gocv driver.
func freeBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}

const bytesPerGB = 1 << 30

// diskMonitor polls free space under a session directory on a fixed
// interval and reports warning/elevated/critical threshold crossings. It
// is a long-lived thread for the duration of a recording session, joined
// on stop per the cleanup invariant.
type diskMonitor struct {
	log     *zap.Logger
	errBus  *eventbus.ErrorBus
	dir     string
	warnGB  float64
	elevGB  float64
	critGB  float64
	every   time.Duration
	onCrit  func()

	stop chan struct{}
	wg   sync.WaitGroup
}

func newDiskMonitor(log *zap.Logger, errBus *eventbus.ErrorBus, dir string, warnGB, elevGB, critGB float64, pollSeconds int, onCrit func()) *diskMonitor {
	if pollSeconds <= 0 {
		pollSeconds = 5
	}
	return &diskMonitor{
		log: log, errBus: errBus, dir: dir,
		warnGB: warnGB, elevGB: elevGB, critGB: critGB,
		every: time.Duration(pollSeconds) * time.Second,
		onCrit: onCrit,
		stop:   make(chan struct{}),
	}
}

// checkOnce performs one immediate poll for RecordingService.StartRecording's
// pre-flight check. It reports threshold crossings like any other poll, but
// never invokes onCrit: pre-flight's job is to fail start_recording outright
// when free space is already at or below critical, not to auto-stop a
// session that has not started yet.
func (m *diskMonitor) checkOnce() (freeGB float64, critical bool, err error) {
	return m.poll(false)
}

// poll reads free space once and reports any threshold crossing. fireCrit
// gates the auto-stop callback so pre-flight calls (see checkOnce) can
// observe a critical reading without triggering it.
func (m *diskMonitor) poll(fireCrit bool) (freeGB float64, critical bool, err error) {
	free, err := freeBytes(m.dir)
	if err != nil {
		return 0, false, err
	}
	freeGB = float64(free) / bytesPerGB
	m.report(freeGB, fireCrit)
	return freeGB, freeGB <= m.critGB, nil
}

// At exactly a threshold value the monitor fires: free_space = crit_gb
// publishes CRITICAL and invokes auto-stop, not just free_space < crit_gb.
func (m *diskMonitor) report(freeGB float64, fireCrit bool) {
	switch {
	case freeGB <= m.critGB:
		m.errBus.Publish(eventbus.ErrorEvent{
			Category: eventbus.CategoryDiskSpace,
			Severity: eventbus.SeverityCritical,
			Source:   "recording.disk",
			Message:  "free space below critical threshold",
			Metadata: map[string]string{"free_gb": formatGB(freeGB)},
		})
		if fireCrit && m.onCrit != nil {
			m.onCrit()
		}
	case freeGB <= m.elevGB:
		m.errBus.Publish(eventbus.ErrorEvent{
			Category: eventbus.CategoryDiskSpace,
			Severity: eventbus.SeverityWarning,
			Source:   "recording.disk",
			Message:  "free space below elevated-warning threshold",
			Metadata: map[string]string{"free_gb": formatGB(freeGB)},
		})
	case freeGB <= m.warnGB:
		m.log.Info("free space below warning threshold", zap.Float64("free_gb", freeGB))
	}
}

// Start begins the polling loop. checkOnce has already been called once by
// the caller (StartRecording's pre-flight check) before Start runs.
func (m *diskMonitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.every)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				if _, _, err := m.poll(true); err != nil {
					m.log.Warn("disk monitor poll failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop signals the monitor goroutine and waits for it to exit.
func (m *diskMonitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func formatGB(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
