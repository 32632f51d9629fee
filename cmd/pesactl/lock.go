package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pesa/internal/applock"
)

var (
	errLockFailed      = errors.New("app lock")
	errMissingStoreKey = errors.New("app lock needs SECURE_STORE_KEY (or secure_store_key in the config file) to encrypt the PIN")
)

func lockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Manage the six digit app lock PIN",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report whether the app lock is enabled",
		Args:  cobra.NoArgs,
		RunE: withLock(func(cmd *cobra.Command, lock *applock.Lock) error {
			on, err := lock.Enabled(cmd.Context())
			if err != nil {
				return err
			}
			if on {
				fmt.Fprintln(cmd.OutOrStdout(), "app lock enabled")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "app lock disabled")
			}
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "setup",
		Short: "Choose a new PIN",
		Args:  cobra.NoArgs,
		RunE: withLock(func(cmd *cobra.Command, lock *applock.Lock) error {
			pins := newPINReader(cmd)
			gate := lock.SetupGate()
			if _, err := feedPIN(cmd.Context(), gate, pins.read("New PIN: ")); err != nil {
				return err
			}
			snap, err := feedPIN(cmd.Context(), gate, pins.read("Confirm PIN: "))
			if err != nil {
				return err
			}
			if snap.State != applock.StateSuccess {
				return fmt.Errorf("%w: %s", errLockFailed, snap.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "app lock enabled")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "unlock",
		Short: "Check a PIN against the stored one",
		Args:  cobra.NoArgs,
		RunE: withLock(func(cmd *cobra.Command, lock *applock.Lock) error {
			if err := unlock(cmd, lock); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "unlocked")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Forget the PIN after confirming it",
		Args:  cobra.NoArgs,
		RunE: withLock(func(cmd *cobra.Command, lock *applock.Lock) error {
			on, err := lock.Enabled(cmd.Context())
			if err != nil {
				return err
			}
			if on {
				if err := unlock(cmd, lock); err != nil {
					return err
				}
			}
			if err := lock.Disable(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "app lock disabled")
			return nil
		}),
	})
	return cmd
}

// withLock opens the ledger and hands the command a lock whose PIN hash and
// flag are sealed in the secrets table. Without a key nothing is opened.
func withLock(run func(cmd *cobra.Command, lock *applock.Lock) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		if e.cfg.SecureStoreKey == "" {
			return errMissingStoreKey
		}
		sealed, err := applock.NewEncryptedStore(e.repo, []byte(e.cfg.SecureStoreKey))
		if err != nil {
			return err
		}
		return run(cmd, applock.NewLock(sealed, e.logger))
	}
}

func unlock(cmd *cobra.Command, lock *applock.Lock) error {
	gate := lock.UnlockGate(false)
	snap, err := feedPIN(cmd.Context(), gate, newPINReader(cmd).read("PIN: "))
	if err != nil {
		return err
	}
	if snap.State != applock.StateSuccess {
		return fmt.Errorf("%w: %s", errLockFailed, snap.Message)
	}
	return nil
}

// pinReader prompts on stderr. A terminal gets no echo; anything else,
// such as a pipe, is read line by line.
type pinReader struct {
	cmd *cobra.Command
	in  *bufio.Reader
	fd  int
	tty bool
}

func newPINReader(cmd *cobra.Command) *pinReader {
	r := &pinReader{cmd: cmd, in: bufio.NewReader(cmd.InOrStdin())}
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.fd, r.tty = int(f.Fd()), true
	}
	return r
}

func (r *pinReader) read(label string) string {
	fmt.Fprint(r.cmd.ErrOrStderr(), label)
	if r.tty {
		pin, err := term.ReadPassword(r.fd)
		fmt.Fprintln(r.cmd.ErrOrStderr())
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(pin))
	}
	line, err := r.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	return strings.TrimSpace(line)
}

// feedPIN presses each digit of pin in turn, as a keypad would.
func feedPIN(ctx context.Context, gate *applock.Gate, pin string) (applock.Snapshot, error) {
	if len(pin) != applock.PINLength {
		return gate.Snapshot(), fmt.Errorf("%w: PIN must be %d digits", errLockFailed, applock.PINLength)
	}
	var snap applock.Snapshot
	for _, d := range pin {
		var err error
		if snap, err = gate.Press(ctx, d); err != nil {
			return snap, fmt.Errorf("%w: %v", errLockFailed, err)
		}
	}
	return snap, nil
}
