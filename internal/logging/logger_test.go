package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployLoggerRecordsAndForwards(t *testing.T) {
	var out bytes.Buffer
	base, err := NewBase(&out, "info")
	require.NoError(t, err)

	var mu sync.Mutex
	var forwarded []string
	l := NewDeployLogger("0123456789abcdef", base, func(runID, line string) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "0123456789abcdef", runID)
		forwarded = append(forwarded, line)
	})

	l.Log("building %s", "dist")
	l.WithHost("web-1").Warn("backup skipped")
	l.Debug("not recorded")

	lines := l.Lines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "building dist")
	assert.Contains(t, lines[1], "[web-1] backup skipped")
	assert.Equal(t, lines, forwarded)

	assert.Contains(t, out.String(), "run=01234567")
	assert.Contains(t, out.String(), "host=web-1")
	assert.NotContains(t, out.String(), "not recorded")
}

func TestNewBaseRejectsBadLevel(t *testing.T) {
	_, err := NewBase(&bytes.Buffer{}, "loud")
	assert.Error(t, err)
}

func TestProgressThrottles(t *testing.T) {
	l := Discard()
	report := l.Progress("upload")
	for i := int64(0); i <= 100; i++ {
		report(i, 100)
	}
	report(5, 0)

	lines := l.Lines()
	assert.Len(t, lines, 11)
	assert.True(t, strings.HasSuffix(lines[len(lines)-1], "(100%)"))
}

func TestHostLoggerSharesBuffer(t *testing.T) {
	l := Discard()
	a := l.WithHost("a")
	b := l.WithHost("b")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); a.Log("x") }()
		go func() { defer wg.Done(); b.Log("y") }()
	}
	wg.Wait()
	l.Stage("activate")

	assert.Len(t, l.Lines(), 101)
	assert.Len(t, a.Lines(), 101)
}

func TestWriterSplitsLines(t *testing.T) {
	l := Discard()
	w := l.Writer()
	_, err := w.Write([]byte("first\r\nsec"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ond\n\nthird"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	lines := l.Lines()
	require.Len(t, lines, 3)
	assert.True(t, strings.HasSuffix(lines[0], " first"))
	assert.True(t, strings.HasSuffix(lines[1], " second"))
	assert.True(t, strings.HasSuffix(lines[2], " third"))
}
