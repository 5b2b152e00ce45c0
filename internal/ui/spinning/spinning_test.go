package spinning

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpin(t *testing.T) {
	s := &Spinning{started: time.Now()}
	ctx, cancel := context.WithCancel(context.Background())
	buf := &bytes.Buffer{}
	done := make(chan struct{})
	go func() {
		s.spin(ctx, buf, "building")
		close(done)
	}()
	time.Sleep(3 * Period)
	cancel()
	<-done
	out := buf.String()
	require.Contains(t, out, "building")
	require.True(t, strings.HasSuffix(out, "\033[?25h"), "cursor not restored: %q", out)
}

func TestDone(t *testing.T) {
	// Tests don't run on a terminal: nothing is displayed, but Done still works, twice.
	s := New(context.Background(), "testing")
	time.Sleep(10 * time.Millisecond)
	require.GreaterOrEqual(t, s.Done(), 10*time.Millisecond)
	require.NotPanics(t, func() { s.Done() })
}
