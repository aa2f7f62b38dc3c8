package deployerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := Newf(KindConnect, "dial %s", "10.0.0.1:22").OnHost("web-1")
	assert.Equal(t, "[web-1] connect: dial 10.0.0.1:22", err.Error())

	cause := errors.New("connection refused")
	wrapped := Wrap(KindUpload, cause, "put /srv/dist.tar.gz")
	assert.Equal(t, "upload: put /srv/dist.tar.gz: connection refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindBuild, nil, "ignored"))
}

func TestOnHostKeepsExistingAttribution(t *testing.T) {
	err := New(KindActivate, "exit 2").OnHost("a")
	again := err.OnHost("b")
	assert.Equal(t, "a", again.Host)
	assert.Equal(t, "a", err.Host)
}

func TestClassify(t *testing.T) {
	plain := errors.New("boom")
	got := Classify(plain, KindCompress)
	require.NotNil(t, got)
	assert.Equal(t, KindCompress, got.Kind)
	assert.ErrorIs(t, got, plain)
	assert.Equal(t, "[x] compress: boom", got.OnHost("x").Error(), "cause printed once")

	typed := New(KindBackup, "mkdir failed")
	wrapped := fmt.Errorf("stage: %w", typed)
	assert.Same(t, typed, Classify(wrapped, KindUnknown))

	assert.Nil(t, Classify(nil, KindUnknown))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("x")))
	assert.Equal(t, KindCleanup, KindOf(fmt.Errorf("w: %w", New(KindCleanup, "rm"))))
	assert.True(t, Is(New(KindConfig, "missing"), KindConfig))
	assert.False(t, Is(New(KindConfig, "missing"), KindBuild))
}

func TestSeverityCoversEveryKind(t *testing.T) {
	soft := map[Kind]bool{KindBackup: true, KindCleanup: true}
	for k := KindUnknown; k <= KindCleanup; k++ {
		want := SeverityFatal
		if soft[k] {
			want = SeveritySoft
		}
		assert.Equal(t, want, k.Severity(), k.String())
	}
}

func TestSeverityPanicsOnUnknownKind(t *testing.T) {
	assert.Panics(t, func() { Kind(99).Severity() })
	assert.Equal(t, "kind(99)", Kind(99).String())
}
