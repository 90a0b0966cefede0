package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/motorctl/internal/devicefactory"
	"github.com/srg/motorctl/internal/ringchan"
	"github.com/srg/motorctl/pkg/motor"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <address> <command>",
	Short: "Send one command to a motor controller",
	Long: `Connect to the controller at <address>, wait until its motor
characteristic is discovered, write one command byte and disconnect.

<command> is stop, forward (right), reverse (left) or a byte value such as 0x01.
With --hold, stop is sent after the given duration.`,
	Example: `  motorctl send AA:BB:CC:DD:EE:FF forward --hold 2s
  motorctl send AA:BB:CC:DD:EE:FF 0x00`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

var (
	sendTimeout   time.Duration
	sendHold      time.Duration
	sendScanFirst bool
)

// sendLinger gives the platform time to flush the last write before disconnecting
var sendLinger = 250 * time.Millisecond

func init() {
	sendCmd.Flags().DurationVarP(&sendTimeout, "timeout", "t", 0, "Time allowed for connect and discovery (default from config, 15s)")
	sendCmd.Flags().DurationVar(&sendHold, "hold", 0, "Send stop after this duration")
	sendCmd.Flags().BoolVar(&sendScanFirst, "scan-first", false, "Find the controller in a scan before connecting (always on for tinygo)")
}

func resetSendFlags() {
	sendTimeout = 0
	sendHold = 0
	sendScanFirst = false
}

type stateNote struct {
	status string
	ready  bool
}

// sessionWaiter follows one address through scan and connect
type sessionWaiter struct {
	motor.NopListener

	address string
	states  *ringchan.RingChannel[stateNote]

	// found is the scanned spelling of address, set before seen is closed
	found motor.Peripheral

	seen     chan struct{}
	finished chan struct{}
	seenOnce sync.Once
	doneOnce sync.Once
}

func newSessionWaiter(address string) *sessionWaiter {
	return &sessionWaiter{
		address:  address,
		states:   ringchan.New[stateNote](16),
		seen:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (w *sessionWaiter) OnScanResult(p motor.Peripheral) {
	if strings.EqualFold(p.Address, w.address) {
		w.seenOnce.Do(func() {
			w.found = p
			close(w.seen)
		})
	}
}

func (w *sessionWaiter) OnScanFinished() {
	w.doneOnce.Do(func() { close(w.finished) })
}

func (w *sessionWaiter) OnDeviceStateChanged(address, status string, ready bool) {
	if strings.EqualFold(address, w.address) {
		w.states.Send(stateNote{status: status, ready: ready})
	}
}

// awaitSeen waits until the address shows up in the running scan and
// returns the address as the platform reported it
func (w *sessionWaiter) awaitSeen(ctx context.Context) (string, error) {
	select {
	case <-w.seen:
		return w.found.Address, nil
	case <-w.finished:
		return "", fmt.Errorf("%w: %s did not advertise the motor service", ErrNotFound, w.address)
	case <-ctx.Done():
		return "", waitErr(ctx)
	}
}

// awaitReady waits for the Ready notification or a terminal status
func (w *sessionWaiter) awaitReady(ctx context.Context) error {
	for {
		select {
		case n := <-w.states.C():
			if n.ready {
				return nil
			}
			switch n.status {
			case motor.StatusConnectionFailed:
				return fmt.Errorf("%w: %s", motor.ErrConnectionFailed, w.address)
			case motor.StatusCharacteristicNotFound:
				return fmt.Errorf("%s: %w", w.address, motor.ErrCharacteristicNotFound)
			case motor.StatusDisconnected:
				return fmt.Errorf("%w: %s disconnected during setup", ErrConnectionLost, w.address)
			}
		case <-ctx.Done():
			return waitErr(ctx)
		}
	}
}

func waitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrConnectTimeout
	}
	return ctx.Err()
}

func runSend(cmd *cobra.Command, args []string) error {
	address := strings.TrimSpace(args[0])
	if address == "" {
		return fmt.Errorf("address is empty")
	}
	command, err := motor.ParseCommand(args[1])
	if err != nil {
		return err
	}

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	timeout := a.cfg.ConnectTimeout
	if sendTimeout > 0 {
		timeout = sendTimeout
	}

	cmd.SilenceUsage = true

	ctx, cancel := interruptible(cmd)
	defer cancel()

	w := newSessionWaiter(address)
	m, stop, err := a.startManager(ctx, w)
	if err != nil {
		return err
	}
	defer stop()

	setupCtx, setupCancel := context.WithTimeout(ctx, timeout)
	defer setupCancel()

	if sendScanFirst || strings.EqualFold(a.cfg.Backend, devicefactory.BackendTinyGo) {
		m.StartScan()
		scanned, err := w.awaitSeen(setupCtx)
		if err != nil {
			return err
		}
		// sessions are keyed by the platform's spelling of the address
		address = scanned
	}

	if err := m.Connect(motor.Peripheral{Address: address}); err != nil {
		return err
	}
	if err := w.awaitReady(setupCtx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := m.Send(address, command); err != nil {
		return fmt.Errorf("%w: %s", ErrConnectionLost, address)
	}
	fmt.Fprintf(out, "Sent %s (0x%02x) to %s\n", command, byte(command), address)

	if sendHold > 0 && command != motor.CommandStop {
		select {
		case <-time.After(sendHold):
		case <-ctx.Done():
			// still stop the motor on Ctrl+C
		}
		if err := m.Send(address, motor.CommandStop); err != nil {
			return fmt.Errorf("%w: %s", ErrConnectionLost, address)
		}
		fmt.Fprintf(out, "Sent %s (0x%02x) to %s\n", motor.CommandStop, byte(motor.CommandStop), address)
	}

	time.Sleep(sendLinger)
	return nil
}
