package motor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/motorctl/internal/device"
	"github.com/srg/motorctl/internal/groutine"
)

// Scanner runs discovery scans bounded by a fixed window: Idle → Scanning → Idle.
// A scan is only ever stopped by its own timer or by Close.
//
// Each scan has one goroutine that emits OnScanStarted, the results and
// OnScanFinished in that order. A new scan's goroutine waits for the previous
// one to finish, so listener callbacks of consecutive scans never interleave.
type Scanner struct {
	device   device.ScanningDevice
	listener Listener
	logger   *logrus.Logger

	serviceUUID string
	window      time.Duration

	mu       sync.Mutex
	scanning bool
	gen      uint64
	cancel   context.CancelFunc
	timer    *time.Timer
	done     chan struct{} // closed when the latest scan goroutine returns
}

// NewScanner creates an idle scanner reporting matches of ServiceUUID
func NewScanner(dev device.ScanningDevice, listener Listener, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if listener == nil {
		listener = NopListener{}
	}
	done := make(chan struct{})
	close(done)
	return &Scanner{
		device:      dev,
		listener:    listener,
		logger:      logger,
		serviceUUID: ServiceUUID,
		window:      DefaultScanWindow,
		done:        done,
	}
}

// Scanning reports whether a scan window is open
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// StartScan opens a scan window. It is a no-op while a scan is running.
func (s *Scanner) StartScan() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scanning {
		s.logger.Debug("Scan already running")
		return
	}

	s.scanning = true
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	prev := s.done
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.timer = time.AfterFunc(s.window, func() { s.stopScan(gen) })

	groutine.Go(ctx, "motor-scan", func(ctx context.Context) {
		defer close(done)
		<-prev
		s.run(ctx)
	})
}

func (s *Scanner) run(ctx context.Context) {
	s.logger.WithFields(logrus.Fields{
		"service": s.serviceUUID,
		"window":  s.window,
	}).Info("Scan started")
	s.listener.OnScanStarted()

	// duplicates are requested so the platform reports every advertisement
	err := s.device.Scan(ctx, true, func(adv device.Advertisement) {
		if ctx.Err() != nil || !s.matches(adv) {
			return
		}
		p := peripheralFrom(adv)
		s.logger.WithFields(logrus.Fields{
			"address": p.Address,
			"name":    p.Name,
			"rssi":    p.RSSI,
		}).Debug("Motor controller found")
		s.listener.OnScanResult(p)
	})
	if err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Error("Scan failed")
		reportError(s.listener, err)
	}

	// the window stays open until its timer fires, even after a platform failure
	<-ctx.Done()

	s.logger.Info("Scan finished")
	s.listener.OnScanFinished()
}

func (s *Scanner) matches(adv device.Advertisement) bool {
	if adv.Addr() == "" {
		return false
	}
	for _, u := range adv.Services() {
		if device.SameUUID(u, s.serviceUUID) {
			return true
		}
	}
	return false
}

// stopScan closes scan window gen. It is a no-op when idle or when gen has
// already been closed.
func (s *Scanner) stopScan(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.scanning || s.gen != gen {
		return
	}
	s.scanning = false
	s.timer.Stop()
	s.cancel()
	s.cancel, s.timer = nil, nil
}

// Close stops a running scan ahead of its timer and waits until its
// OnScanFinished has been delivered. Calling it from a scan callback deadlocks.
func (s *Scanner) Close() {
	s.mu.Lock()
	gen, done := s.gen, s.done
	s.mu.Unlock()

	s.stopScan(gen)
	<-done
}
