package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/motorctl/internal/devicelist"
	"github.com/srg/motorctl/pkg/config"
	"github.com/srg/motorctl/pkg/motor"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for motor controllers",
	Long: `Scan for Bluetooth Low Energy motor controllers in the vicinity.

One discovery window is run (5 seconds unless --window or the config file
says otherwise). Every controller advertising the motor-control service is
listed once, in the order it was first seen.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanWindow time.Duration
	scanFormat string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanWindow, "window", "w", 0, "Scan window (default from config, 5s)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json)")
}

func resetScanFlags() {
	scanWindow = 0
	scanFormat = ""
}

// scanListener collects scan results into a device list
type scanListener struct {
	motor.NopListener

	list     *devicelist.List
	finished chan struct{}
	once     sync.Once

	mu  sync.Mutex
	err error
}

func newScanListener() *scanListener {
	return &scanListener{list: devicelist.New(), finished: make(chan struct{})}
}

func (l *scanListener) OnScanResult(p motor.Peripheral) { l.list.Add(p) }

func (l *scanListener) OnScanFinished() { l.once.Do(func() { close(l.finished) }) }

func (l *scanListener) OnError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err == nil {
		l.err = err
	}
}

func (l *scanListener) scanErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func validateFormat(format string) (string, error) {
	f := strings.ToLower(format)
	for _, valid := range config.OutputFormats {
		if f == valid {
			return f, nil
		}
	}
	return "", fmt.Errorf("invalid format '%s': must be one of %v", format, config.OutputFormats)
}

func runScan(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}

	format := a.cfg.OutputFormat
	if scanFormat != "" {
		format = scanFormat
	}
	if format, err = validateFormat(format); err != nil {
		return err
	}
	if scanWindow > 0 {
		a.cfg.ScanWindow = scanWindow
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := interruptible(cmd)
	defer cancel()

	l := newScanListener()
	m, stop, err := a.startManager(ctx, l)
	if err != nil {
		return err
	}
	defer stop()

	m.StartScan()
	select {
	case <-l.finished:
	case <-ctx.Done():
		stop()
	}

	if err := l.scanErr(); err != nil && l.list.Len() == 0 {
		return fmt.Errorf("scan failed: %w", err)
	}
	return renderDevices(cmd.OutOrStdout(), l.list.Records(), format)
}

func renderDevices(w io.Writer, records []devicelist.DeviceRecord, format string) error {
	if format == "json" {
		if records == nil {
			records = []devicelist.DeviceRecord{}
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)
	}

	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No motor controllers found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tADDRESS\tRSSI")
	for i, r := range records {
		name := r.Name
		if runes := []rune(name); len(runes) > 24 {
			name = string(runes[:21]) + "..."
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d dBm\n", i+1, name, r.Address, r.RSSI)
	}
	return tw.Flush()
}
