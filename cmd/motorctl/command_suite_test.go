package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/suite"

	"github.com/srg/motorctl/internal/device"
	"github.com/srg/motorctl/internal/testutils"
	"github.com/srg/motorctl/pkg/motor"
)

// Test controller addresses
const (
	TestMotorAddress1 = "AA:BB:CC:DD:EE:01"
	TestMotorAddress2 = "AA:BB:CC:DD:EE:02"
)

// CommandTestSuite runs motorctl commands against a FakeAdapter.
// Embedding suites configure Adapter after CommandTestSuite.SetupTest.
type CommandTestSuite struct {
	suite.Suite

	Adapter *testutils.FakeAdapter

	origFactory func(string, *logrus.Logger, string) (device.Adapter, error)
	origLinger  func()
}

func (s *CommandTestSuite) SetupTest() {
	s.Adapter = testutils.NewFakeAdapter()

	s.origFactory = adapterFactory
	adapterFactory = func(string, *logrus.Logger, string) (device.Adapter, error) {
		return s.Adapter, nil
	}
	linger := sendLinger
	sendLinger = 0
	s.origLinger = func() { sendLinger = linger }

	resetFlags(rootCmd)
	resetScanFlags()
	resetSendFlags()
}

func (s *CommandTestSuite) TearDownTest() {
	adapterFactory = s.origFactory
	s.origLinger()
}

// resetFlags puts every flag of cmd and its children back to its default;
// cobra keeps parsed values between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// ExecuteCommand runs motorctl with args and returns stdout, stderr and the error
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// WriteConfig writes a YAML config file and returns its path
func (s *CommandTestSuite) WriteConfig(content string) string {
	path := filepath.Join(s.T().TempDir(), "motorctl.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func motorAdvertisement(addr, name string, rssi int) device.Advertisement {
	return testutils.CreateMockAdvertisement(name, addr, rssi).
		WithServices(motor.ServiceUUID).
		Build()
}
