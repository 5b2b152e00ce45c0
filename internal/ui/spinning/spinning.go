// Package spinning shows a spinning symbol on the terminal while a long computation runs,
// e.g. while GPNet graphs are compiled and executed.
package spinning

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"
	"k8s.io/klog/v2"
)

var (
	ThemeAscii = []rune(`|/-\`)
	ThemeMoon  = []rune("🌑🌒🌓🌔🌕🌖🌗🌘")
	ThemeClock = []rune("🕐🕑🕒🕓🕔🕕🕖🕗🕘🕙🕚🕛")

	// Theme used by New. It can be set to any non-empty list of symbols.
	Theme = ThemeClock

	// Period between symbol changes.
	Period = 250 * time.Millisecond
)

// Spinning display, created by New. Call Done to stop it.
type Spinning struct {
	wg      sync.WaitGroup
	cancel  func()
	started time.Time
}

// SafeInterrupt captures SIGINT (Ctrl+C) and SIGTERM and calls onInterrupt.
// If the program hasn't exited after gracePeriod, it resets the terminal and exits.
func SafeInterrupt(onInterrupt func(), gracePeriod time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigChan
		klog.Errorf("Interrupted (signal %q), shutting down in %s", s, gracePeriod)
		if onInterrupt != nil {
			go onInterrupt()
		}
		time.Sleep(gracePeriod)
		Reset()
		klog.Exitf("Grace period of %s expired, exiting.", gracePeriod)
	}()
}

// Reset terminal: make the cursor visible and restore the default colors.
func Reset() {
	if isTerminal(os.Stderr) {
		fmt.Fprint(os.Stderr, "\033[?25h\033[39;49;0m")
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// New starts a spinning display on stderr, followed by message, that runs on a separate goroutine until
// Done is called or ctx is cancelled.
//
// If stderr is not a terminal nothing is displayed, so logs and redirected outputs stay clean.
func New(ctx context.Context, message string) *Spinning {
	s := &Spinning{started: time.Now()}
	ctx, s.cancel = context.WithCancel(ctx)
	if !isTerminal(os.Stderr) || len(Theme) == 0 {
		return s
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.spin(ctx, os.Stderr, message)
	}()
	return s
}

func (s *Spinning) spin(ctx context.Context, w io.Writer, message string) {
	ticker := time.NewTicker(Period)
	defer ticker.Stop()
	fmt.Fprint(w, "\033[?25l")       // Hide cursor.
	defer fmt.Fprint(w, "\033[?25h") // Restore cursor.
	for idx := 0; ; idx = (idx + 1) % len(Theme) {
		fmt.Fprintf(w, "\r%c %s", Theme[idx], message)
		select {
		case <-ctx.Done():
			fmt.Fprint(w, "\r\033[K") // Clear line.
			return
		case <-ticker.C:
		}
	}
}

// Done stops the spinning display, and returns the time elapsed since New.
// It is safe to call more than once.
func (s *Spinning) Done() time.Duration {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
	return time.Since(s.started)
}
