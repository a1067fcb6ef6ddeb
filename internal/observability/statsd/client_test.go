package statsd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// udpRecorder listens on a loopback UDP port and collects received lines.
func udpRecorder(t *testing.T) (addr string, lines <-chan string) {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ch := make(chan string, 16)
	go func() {
		buf := make([]byte, 1500)
		for {
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			ch <- string(buf[:n])
		}
	}()
	return conn.LocalAddr().String(), ch
}

func recv(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case line := <-lines:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("no metric received")
		return ""
	}
}

func TestClientCount(t *testing.T) {
	addr, lines := udpRecorder(t)

	c, err := NewClient(Config{Enabled: true, Address: addr, Prefix: "attuned"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	c.Count("session.login", 1, nil)
	assert.Equal(t, "attuned.session.login:1|c", recv(t, lines))
}

func TestClientCountWithSortedTags(t *testing.T) {
	addr, lines := udpRecorder(t)

	c, err := NewClient(Config{Enabled: true, Address: addr, Prefix: "attuned"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	c.Count("flow.mount", 1, map[string]string{"result": "ok", "flow": "main"})
	assert.Equal(t, "attuned.flow.mount:1|c|#flow:main,result:ok", recv(t, lines))
}

func TestClientTiming(t *testing.T) {
	addr, lines := udpRecorder(t)

	c, err := NewClient(Config{Enabled: true, Address: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	c.Timing("session.init.duration", 1500*time.Millisecond, nil)
	assert.Equal(t, "session.init.duration:1500|ms", recv(t, lines))
}

func TestClientPrefixTrimmed(t *testing.T) {
	addr, lines := udpRecorder(t)

	c, err := NewClient(Config{Enabled: true, Address: addr, Prefix: " .attuned. "})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	c.Count("x", 2, nil)
	assert.Equal(t, "attuned.x:2|c", recv(t, lines))
}

func TestDisabledClientDropsMetrics(t *testing.T) {
	c, err := NewClient(Config{Enabled: false, Address: "127.0.0.1:1"})
	require.NoError(t, err)

	// Must not panic or attempt network IO.
	c.Count("session.login", 1, nil)
	c.Timing("session.init.duration", time.Second, nil)
	assert.NoError(t, c.Close())
}

func TestEnabledWithoutAddressIsDisabled(t *testing.T) {
	c, err := NewClient(Config{Enabled: true, Address: "  "})
	require.NoError(t, err)

	c.Count("x", 1, nil)
	assert.NoError(t, c.Close())
}

func TestWriteAfterClose(t *testing.T) {
	addr, _ := udpRecorder(t)

	c, err := NewClient(Config{Enabled: true, Address: addr})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c.Count("x", 1, nil)
	assert.NoError(t, c.Close())
}

func TestNopSink(t *testing.T) {
	var s Sink = Nop{}
	s.Count("x", 1, map[string]string{"a": "b"})
	s.Timing("y", time.Second, nil)
}

func TestFormatTagsSkipsBlankKeys(t *testing.T) {
	assert.Empty(t, formatTags(nil))
	assert.Equal(t, "|#a:1", formatTags(map[string]string{"a": "1", " ": "x"}))
}
