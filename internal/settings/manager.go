// Package settings implements the enable/disable feature toggles. The
// security-sensitive ones (default password, adb keys, factory-wipe marker)
// silently do nothing unless the data partition was wiped in this run, so a
// stray command file cannot mutate credentials on an intact system.
package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/recoveryworks/update-engine/internal/cmdrunner"
	"github.com/recoveryworks/update-engine/pkg/logger"
)

// USB mode strings understood by the mode file consumer.
const (
	USBModeMTP       = "mtp"
	USBModeDeveloper = "mtp,adb"
	USBModeNone      = "none"
)

// Hasher delegates password hashing; the engine never implements crypto.
type Hasher func(ctx context.Context, password string) (string, error)

// Manager applies feature toggles to their backing files.
type Manager struct {
	usbModeFile  string
	adbKeysFile  string
	wipeMarker   string
	passwordFile string
	hash         Hasher
	log          *logger.Logger
}

func NewManager(usbModeFile, adbKeysFile, wipeMarker, passwordFile string, runner cmdrunner.CommandRunner) *Manager {
	return &Manager{
		usbModeFile:  usbModeFile,
		adbKeysFile:  adbKeysFile,
		wipeMarker:   wipeMarker,
		passwordFile: passwordFile,
		hash: func(ctx context.Context, password string) (string, error) {
			return runner.RunAndTrimmedOutput(ctx, "openssl", "passwd", "-6", password)
		},
		log: logger.NewLogger("settings"),
	}
}

// SetHasher overrides the password-hashing delegate.
func (m *Manager) SetHasher(h Hasher) {
	m.hash = h
}

// SetUSBMode writes the USB gadget mode string.
func (m *Manager) SetUSBMode(mode string) error {
	if err := os.MkdirAll(filepath.Dir(m.usbModeFile), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(m.usbModeFile, []byte(mode+"\n"), 0644); err != nil {
		return fmt.Errorf("writing usb mode: %w", err)
	}
	m.log.Infof("usb mode set to %s", mode)
	return nil
}

func (m *Manager) EnableDeveloperMode() error {
	return m.SetUSBMode(USBModeDeveloper)
}

func (m *Manager) DisableDeveloperMode() error {
	return m.SetUSBMode(USBModeMTP)
}

func (m *Manager) EnableMTP() error {
	return m.SetUSBMode(USBModeMTP)
}

func (m *Manager) DisableMTP() error {
	return m.SetUSBMode(USBModeNone)
}

// SetDefaultPassword hashes and installs the default account password.
// Ignored unless the data partition was formatted this run.
func (m *Manager) SetDefaultPassword(ctx context.Context, password string, dataFormatted bool) error {
	if !dataFormatted {
		m.log.Warn("default_password ignored: data partition not formatted this run")
		return nil
	}

	hashed, err := m.hash(ctx, password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.passwordFile), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(m.passwordFile, []byte(hashed+"\n"), 0600); err != nil {
		return fmt.Errorf("writing password file: %w", err)
	}
	m.log.Info("default password installed")
	return nil
}

// EnableADBKeys appends an authorized adb public key. Ignored unless the data
// partition was formatted this run.
func (m *Manager) EnableADBKeys(key string, dataFormatted bool) error {
	if !dataFormatted {
		m.log.Warn("adb_keys ignored: data partition not formatted this run")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(m.adbKeysFile), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(m.adbKeysFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("opening adb keys: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(key + "\n"); err != nil {
		return fmt.Errorf("writing adb key: %w", err)
	}
	m.log.Info("adb key installed")
	return nil
}

// DisableADBKeys removes all authorized adb keys. Ignored unless the data
// partition was formatted this run.
func (m *Manager) DisableADBKeys(dataFormatted bool) error {
	if !dataFormatted {
		m.log.Warn("adb_keys ignored: data partition not formatted this run")
		return nil
	}
	if err := os.Remove(m.adbKeysFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	m.log.Info("adb keys removed")
	return nil
}

// EnableFactoryWipe touches the factory-wipe marker. The marker's presence is
// the feature's entire state. Ignored unless the data partition was formatted
// this run.
func (m *Manager) EnableFactoryWipe(dataFormatted bool) error {
	if !dataFormatted {
		m.log.Warn("factory_wipe ignored: data partition not formatted this run")
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.wipeMarker), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(m.wipeMarker, nil, 0644); err != nil {
		return err
	}
	m.log.Info("factory wipe marker set")
	return nil
}

// DisableFactoryWipe clears the marker. Removing the marker only makes the
// system safer, so it is not gated on the wipe flag.
func (m *Manager) DisableFactoryWipe() error {
	if err := os.Remove(m.wipeMarker); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
