// Package applock guards foreground access with a six digit PIN or a
// biometric confirmation.
package applock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"pesa/internal/log"
	"pesa/internal/storage"
)

const PINLength = 6

const (
	keyPINHash = "applock.pin_hash"
	keyEnabled = "applock.enabled"
)

const (
	MsgMismatch  = "PINs do not match"
	MsgIncorrect = "Incorrect PIN"
)

type State int

const (
	StateIdle State = iota
	StateEntering
	StateConfirming
	StateVerifying
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEntering:
		return "entering"
	case StateConfirming:
		return "confirming"
	case StateVerifying:
		return "verifying"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Mode int

const (
	ModeSetup Mode = iota
	ModeUnlock
)

var (
	ErrDigitRejected        = errors.New("digit rejected")
	ErrNotDigit             = errors.New("only digits 0-9 are accepted")
	ErrLockNotSet           = errors.New("app lock is not set up")
	ErrBiometricUnavailable = errors.New("biometric unlock is not available")
)

// Lock owns the persisted PIN hash and enabled flag.
type Lock struct {
	store  SecureStore
	cost   int
	logger *log.Logger
}

func NewLock(store SecureStore, logger *log.Logger) *Lock {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Lock{store: store, cost: bcrypt.DefaultCost, logger: logger.WithComponent(log.ComponentAppLock)}
}

// Enabled reports whether a PIN has been set and not disabled since.
func (l *Lock) Enabled(ctx context.Context) (bool, error) {
	v, err := l.store.GetSecret(ctx, keyEnabled)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// Disable forgets the PIN.
func (l *Lock) Disable(ctx context.Context) error {
	if err := l.store.DeleteSecret(ctx, keyPINHash); err != nil {
		return err
	}
	if err := l.store.SetSecret(ctx, keyEnabled, "false"); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "App lock disabled")
	return nil
}

func (l *Lock) save(ctx context.Context, pin []byte) error {
	hash, err := bcrypt.GenerateFromPassword(pin, l.cost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	if err := l.store.SetSecret(ctx, keyPINHash, string(hash)); err != nil {
		return err
	}
	return l.store.SetSecret(ctx, keyEnabled, "true")
}

func (l *Lock) verify(ctx context.Context, pin []byte) (bool, error) {
	hash, err := l.store.GetSecret(ctx, keyPINHash)
	if errors.Is(err, storage.ErrNotFound) {
		return false, ErrLockNotSet
	}
	if err != nil {
		return false, err
	}
	err = bcrypt.CompareHashAndPassword([]byte(hash), pin)
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare pin: %w", err)
	}
	return true, nil
}

// Snapshot is what a PIN pad needs to render.
type Snapshot struct {
	State      State
	Message    string
	Digits     int // digits in the active buffer
	Confirming bool
}

// Gate is one PIN entry session. It is safe for concurrent use; digits
// pressed while a PIN is being checked are rejected.
type Gate struct {
	lock      *Lock
	mode      Mode
	biometric bool

	mu      sync.Mutex
	state   State
	pin     []byte
	confirm []byte
	message string
}

// SetupGate starts choosing a new PIN.
func (l *Lock) SetupGate() *Gate {
	return &Gate{lock: l, mode: ModeSetup}
}

// UnlockGate starts unlocking. biometric says whether the device offers a
// biometric prompt as an alternative.
func (l *Lock) UnlockGate(biometric bool) *Gate {
	return &Gate{lock: l, mode: ModeUnlock, biometric: biometric}
}

func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot()
}

func (g *Gate) snapshot() Snapshot {
	return Snapshot{
		State:      g.state,
		Message:    g.message,
		Digits:     len(g.active()),
		Confirming: g.state == StateConfirming,
	}
}

func (g *Gate) active() []byte {
	if g.state == StateConfirming {
		return g.confirm
	}
	return g.pin
}

// Press adds one digit. The sixth digit submits: in setup mode the first
// PIN moves to confirmation, otherwise the PIN is checked before Press
// returns.
func (g *Gate) Press(ctx context.Context, digit rune) (Snapshot, error) {
	if digit < '0' || digit > '9' {
		return g.Snapshot(), ErrNotDigit
	}

	g.mu.Lock()
	switch g.state {
	case StateVerifying, StateSuccess:
		s := g.snapshot()
		g.mu.Unlock()
		return s, ErrDigitRejected
	case StateIdle, StateError:
		g.state = StateEntering
		g.message = ""
	}

	if g.state == StateConfirming {
		g.confirm = append(g.confirm, byte(digit))
		if len(g.confirm) < PINLength {
			s := g.snapshot()
			g.mu.Unlock()
			return s, nil
		}
	} else {
		g.pin = append(g.pin, byte(digit))
		if len(g.pin) < PINLength {
			s := g.snapshot()
			g.mu.Unlock()
			return s, nil
		}
		if g.mode == ModeSetup {
			g.state = StateConfirming
			s := g.snapshot()
			g.mu.Unlock()
			return s, nil
		}
	}

	g.state = StateVerifying
	pin := append([]byte(nil), g.pin...)
	confirm := append([]byte(nil), g.confirm...)
	g.mu.Unlock()

	return g.submit(ctx, pin, confirm)
}

// submit runs without the mutex so concurrent presses see StateVerifying.
func (g *Gate) submit(ctx context.Context, pin, confirm []byte) (Snapshot, error) {
	var (
		ok      bool
		err     error
		failMsg string
	)
	if g.mode == ModeSetup {
		failMsg = MsgMismatch
		if ok = string(pin) == string(confirm); ok {
			err = g.lock.save(ctx, pin)
		}
	} else {
		failMsg = MsgIncorrect
		ok, err = g.lock.verify(ctx, pin)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case err != nil:
		g.fail(err.Error())
		return g.snapshot(), err
	case !ok:
		g.fail(failMsg)
		g.lock.logger.WarnContext(ctx, "PIN rejected", "reason", failMsg)
	default:
		g.state = StateSuccess
		g.clear()
		if g.mode == ModeSetup {
			g.lock.logger.InfoContext(ctx, "App lock enabled")
		}
	}
	return g.snapshot(), nil
}

// fail shows message and resets both buffers, so setup restarts from the
// first PIN rather than from confirmation.
func (g *Gate) fail(message string) {
	g.state = StateError
	g.message = message
	g.clear()
}

func (g *Gate) clear() {
	g.pin = g.pin[:0]
	g.confirm = g.confirm[:0]
}

// Delete removes the last digit of the active buffer and clears any error.
func (g *Gate) Delete() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateVerifying, StateSuccess:
		return g.snapshot()
	case StateError:
		g.state = StateIdle
		g.message = ""
		return g.snapshot()
	case StateConfirming:
		if n := len(g.confirm); n > 0 {
			g.confirm = g.confirm[:n-1]
		}
		return g.snapshot()
	}

	if n := len(g.pin); n > 0 {
		g.pin = g.pin[:n-1]
	}
	if len(g.pin) == 0 {
		g.state = StateIdle
	}
	return g.snapshot()
}

// ConfirmBiometric short-circuits an unlock after the device confirmed the
// user. PIN buffers are left untouched.
func (g *Gate) ConfirmBiometric(ok bool) (Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode != ModeUnlock || !g.biometric {
		return g.snapshot(), ErrBiometricUnavailable
	}
	if ok && g.state != StateVerifying {
		g.state = StateSuccess
		g.message = ""
	}
	return g.snapshot(), nil
}
