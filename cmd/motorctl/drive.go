package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/motorctl/internal/devicelist"
	"github.com/srg/motorctl/internal/ringchan"
	"github.com/srg/motorctl/pkg/motor"
)

// driveCmd represents the drive command
var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Drive motor controllers from the keyboard",
	Long: `Open an interactive console listing nearby motor controllers.

A scan starts right away. Select a controller with the arrow keys or its
number, press Enter to connect, then hold Left or Right to turn the motor.
Releasing the key sends stop.

Keys:
  Up/Down, 1-9     select a controller
  Enter            connect the selected controller
  Left, a          reverse while held
  Right, d         forward while held
  Space, x         stop
  s                scan again
  q, Ctrl+C        quit`,
	Args: cobra.NoArgs,
	RunE: runDrive,
}

// controller is the part of the motor manager the console drives
type controller interface {
	StartScan()
	Connect(p motor.Peripheral) error
	Send(address string, cmd motor.Command) error
	CloseAll()
}

type uiEventKind int

const (
	uiScanStarted uiEventKind = iota
	uiScanResult
	uiScanFinished
	uiState
	uiError
)

type uiEvent struct {
	kind       uiEventKind
	peripheral motor.Peripheral
	address    string
	status     string
	ready      bool
	err        error
}

// uiListener moves manager notifications onto the console loop
type uiListener struct {
	events *ringchan.RingChannel[uiEvent]
}

func (l *uiListener) OnScanStarted() { l.events.Send(uiEvent{kind: uiScanStarted}) }

func (l *uiListener) OnScanResult(p motor.Peripheral) {
	l.events.Send(uiEvent{kind: uiScanResult, peripheral: p})
}

func (l *uiListener) OnScanFinished() { l.events.Send(uiEvent{kind: uiScanFinished}) }

func (l *uiListener) OnDeviceStateChanged(address, status string, ready bool) {
	l.events.Send(uiEvent{kind: uiState, address: address, status: status, ready: ready})
}

func (l *uiListener) OnError(err error) { l.events.Send(uiEvent{kind: uiError, err: err}) }

type keyKind int

const (
	keyUp keyKind = iota
	keyDown
	keyLeft
	keyRight
	keyEnter
	keyStop
	keyScan
	keySelect
	keyQuit
)

type key struct {
	kind  keyKind
	index int // keySelect only, zero based
}

// parseKeys decodes one read from a raw terminal. Unknown bytes are skipped.
func parseKeys(buf []byte) []key {
	var keys []key
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		switch {
		case b == 0x1b && i+2 < len(buf) && (buf[i+1] == '[' || buf[i+1] == 'O'):
			switch buf[i+2] {
			case 'A':
				keys = append(keys, key{kind: keyUp})
			case 'B':
				keys = append(keys, key{kind: keyDown})
			case 'C':
				keys = append(keys, key{kind: keyRight})
			case 'D':
				keys = append(keys, key{kind: keyLeft})
			}
			i += 2
		case b == '\r' || b == '\n':
			keys = append(keys, key{kind: keyEnter})
		case b == ' ' || b == 'x' || b == 'X':
			keys = append(keys, key{kind: keyStop})
		case b == 'a' || b == 'A':
			keys = append(keys, key{kind: keyLeft})
		case b == 'd' || b == 'D':
			keys = append(keys, key{kind: keyRight})
		case b == 's' || b == 'S':
			keys = append(keys, key{kind: keyScan})
		case b >= '1' && b <= '9':
			keys = append(keys, key{kind: keySelect, index: int(b - '1')})
		case b == 'q' || b == 'Q' || b == 0x03 || b == 0x04:
			keys = append(keys, key{kind: keyQuit})
		}
	}
	return keys
}

// console is the state of the interactive screen. It is owned by the drive
// loop and never touched from listener goroutines.
type console struct {
	ctl          controller
	list         *devicelist.List
	releaseAfter time.Duration

	selected int
	scanning bool
	notice   string
	dirty    bool
	quit     bool

	// held command and the address it was sent to
	held      motor.Command
	heldAddr  string
	holding   bool
	lastPress time.Time
}

func newConsole(ctl controller, releaseAfter time.Duration) *console {
	return &console{
		ctl:          ctl,
		list:         devicelist.New(),
		releaseAfter: releaseAfter,
		dirty:        true,
	}
}

func (c *console) apply(ev uiEvent) {
	switch ev.kind {
	case uiScanStarted:
		c.scanning = true
		c.resetList()
	case uiScanResult:
		c.list.Add(ev.peripheral)
	case uiScanFinished:
		c.scanning = false
	case uiState:
		c.list.UpdateStatus(ev.address, ev.status, ev.ready)
		if !ev.ready && c.holding && ev.address == c.heldAddr {
			c.holding = false
		}
	case uiError:
		c.notice = fmt.Sprintf("Error: %v", ev.err)
	}
	c.dirty = true
}

// resetList starts a fresh list for a new scan. Controllers with a session
// stay listed so their status keeps updating; the selection follows its record.
func (c *console) resetList() {
	selected, _ := c.current()
	kept := c.list.Records()
	c.list.Clear()

	c.selected = 0
	for _, r := range kept {
		if !r.Connected && r.Status != motor.StatusConnecting && r.Status != motor.StatusDiscovering {
			continue
		}
		c.list.Add(motor.Peripheral{Address: r.Address, Name: r.Name, RSSI: r.RSSI})
		c.list.UpdateStatus(r.Address, r.Status, r.Connected)
		if r.Address == selected.Address {
			c.selected = c.list.Len() - 1
		}
	}
}

func (c *console) current() (devicelist.DeviceRecord, bool) {
	return c.list.At(c.selected)
}

func (c *console) handleKey(k key, now time.Time) {
	c.dirty = true
	switch k.kind {
	case keyUp:
		if c.selected > 0 {
			c.selected--
		}
	case keyDown:
		if c.selected < c.list.Len()-1 {
			c.selected++
		}
	case keySelect:
		if k.index < c.list.Len() {
			c.selected = k.index
		}
	case keyEnter:
		r, ok := c.current()
		if !ok {
			c.notice = "No controller selected"
			return
		}
		if err := c.ctl.Connect(motor.Peripheral{Address: r.Address, Name: r.Name, RSSI: r.RSSI}); err != nil {
			c.notice = fmt.Sprintf("Connect %s: %v", r.Address, err)
		}
	case keyScan:
		c.ctl.StartScan()
	case keyStop:
		stopped := ""
		if c.holding {
			stopped = c.heldAddr
		}
		c.release()
		if r, ok := c.current(); ok && r.Connected && r.Address != stopped {
			c.send(r.Address, motor.CommandStop)
		}
	case keyLeft:
		c.press(motor.CommandReverse, now)
	case keyRight:
		c.press(motor.CommandForward, now)
	case keyQuit:
		c.release()
		c.quit = true
	}
}

// press starts or extends holding cmd on the selected controller.
// Key repeats only extend the hold; the command byte is written once.
func (c *console) press(cmd motor.Command, now time.Time) {
	r, ok := c.current()
	if !ok {
		c.notice = "No controller selected"
		return
	}
	if c.holding && c.held == cmd && c.heldAddr == r.Address {
		c.lastPress = now
		return
	}
	c.release()
	if !c.send(r.Address, cmd) {
		return
	}
	c.held, c.heldAddr, c.holding, c.lastPress = cmd, r.Address, true, now
}

// release sends stop for the held command, if any
func (c *console) release() {
	if !c.holding {
		return
	}
	c.holding = false
	c.send(c.heldAddr, motor.CommandStop)
}

// tick detects a released key: terminals report no key-up, only the end of repeats
func (c *console) tick(now time.Time) {
	if c.holding && now.Sub(c.lastPress) >= c.releaseAfter {
		c.release()
		c.dirty = true
	}
}

func (c *console) send(address string, cmd motor.Command) bool {
	if err := c.ctl.Send(address, cmd); err != nil {
		if errors.Is(err, motor.ErrWriteTargetAbsent) {
			c.notice = fmt.Sprintf("%s is not connected", address)
		} else {
			c.notice = fmt.Sprintf("Send %s: %v", cmd, err)
		}
		return false
	}
	return true
}

var (
	statusReady   = color.New(color.FgGreen)
	statusPending = color.New(color.FgYellow)
	statusFailed  = color.New(color.FgRed)
	statusIdle    = color.New(color.Faint)
	selectedRow   = color.New(color.Bold)
)

func paintStatus(r devicelist.DeviceRecord) string {
	switch {
	case r.Status == "":
		return statusIdle.Sprint("-")
	case r.Connected:
		return statusReady.Sprint(r.Status)
	case r.Status == motor.StatusConnecting || r.Status == motor.StatusDiscovering:
		return statusPending.Sprint(r.Status)
	case r.Status == motor.StatusDisconnected:
		return statusIdle.Sprint(r.Status)
	default:
		return statusFailed.Sprint(r.Status)
	}
}

// render redraws the whole screen. Lines end in \r\n since the terminal is raw.
func (c *console) render(w io.Writer) {
	var b strings.Builder
	b.WriteString("\x1b[H\x1b[2J")

	scan := "idle"
	if c.scanning {
		scan = statusPending.Sprint("scanning...")
	}
	fmt.Fprintf(&b, "motorctl drive  [scan: %s]\r\n\r\n", scan)

	records := c.list.Records()
	if len(records) == 0 {
		b.WriteString("  No motor controllers found yet\r\n")
	}
	for i, r := range records {
		marker := "  "
		line := fmt.Sprintf("%d. %-24s %-17s %4d dBm", i+1, r.Name, r.Address, r.RSSI)
		if i == c.selected {
			marker = "> "
			line = selectedRow.Sprint(line)
		}
		fmt.Fprintf(&b, "%s%s  %s", marker, line, paintStatus(r))
		if c.holding && r.Address == c.heldAddr {
			fmt.Fprintf(&b, "  <%s>", c.held)
		}
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n[Enter] connect  [Left/Right] hold to drive  [Space] stop  [s] scan  [q] quit\r\n")
	if c.notice != "" {
		b.WriteString(c.notice + "\r\n")
		c.notice = ""
	}

	_, _ = io.WriteString(w, b.String())
	c.dirty = false
}

// driveTick bounds how late a key release is noticed
const driveTick = 50 * time.Millisecond

func readKeys(r io.Reader, keys chan<- []byte) {
	defer close(keys)
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			keys <- append([]byte(nil), buf[:n]...)
		}
		if err != nil {
			return
		}
	}
}

func runDrive(cmd *cobra.Command, _ []string) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("drive needs an interactive terminal")
	}

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	// Log lines would tear the screen apart unless explicitly asked for
	if !cmd.Flags().Changed("log-level") {
		a.logger.SetOutput(io.Discard)
	}

	cmd.SilenceUsage = true

	ctx, cancel := interruptible(cmd)
	defer cancel()

	events := ringchan.New[uiEvent](256)
	defer events.Close()

	m, stop, err := a.startManager(ctx, &uiListener{events: events})
	if err != nil {
		return err
	}
	defer stop()

	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to switch terminal to raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, state) }()

	keys := make(chan []byte, 8)
	go readKeys(os.Stdin, keys)

	out := cmd.OutOrStdout()
	c := newConsole(m, a.cfg.ReleaseAfter)
	m.StartScan()

	ticker := time.NewTicker(driveTick)
	defer ticker.Stop()

	for !c.quit {
		select {
		case ev := <-events.C():
			c.apply(ev)
		case buf, ok := <-keys:
			if !ok {
				c.handleKey(key{kind: keyQuit}, time.Now())
				break
			}
			now := time.Now()
			for _, k := range parseKeys(buf) {
				c.handleKey(k, now)
			}
		case now := <-ticker.C:
			c.tick(now)
		case <-ctx.Done():
			c.handleKey(key{kind: keyQuit}, time.Now())
		}
		if c.dirty && !c.quit {
			c.render(out)
		}
	}

	m.CloseAll()
	_, _ = io.WriteString(out, "\r\n")
	return nil
}
