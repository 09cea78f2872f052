package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMochaJSONStreamParser_ParseLine(t *testing.T) {
	p := NewMochaJSONStreamParser()

	t.Run("start", func(t *testing.T) {
		e, ok := p.ParseLine(`["start",{"total":3}]`)
		require.True(t, ok)
		assert.Equal(t, EventStart, e.Kind)
		assert.Equal(t, 3, e.Total)
	})

	t.Run("pass", func(t *testing.T) {
		e, ok := p.ParseLine(`["pass",{"title":"adds","fullTitle":"math adds","file":"/w/test/a.js","duration":12,"currentRetry":0,"speed":"fast"}]`)
		require.True(t, ok)
		assert.Equal(t, EventPass, e.Kind)
		assert.Equal(t, "adds", e.Title)
		assert.Equal(t, "math adds", e.FullTitle)
		assert.Equal(t, "/w/test/a.js", e.File)
		require.NotNil(t, e.Duration)
		assert.Equal(t, int64(12), *e.Duration)
	})

	t.Run("fail", func(t *testing.T) {
		e, ok := p.ParseLine(`["fail",{"title":"subtracts","fullTitle":"math subtracts","duration":3,"err":"expected 1 to equal 2","stack":"AssertionError: expected 1 to equal 2\n    at Context.<anonymous> (test/a.js:9:12)"}]`)
		require.True(t, ok)
		assert.Equal(t, EventFail, e.Kind)
		assert.Equal(t, "expected 1 to equal 2", e.Err)
		assert.Contains(t, e.Stack, "test/a.js:9:12")
		assert.False(t, e.IsHook())
	})

	t.Run("end", func(t *testing.T) {
		e, ok := p.ParseLine(`["end",{"suites":1,"tests":2,"passes":1,"pending":0,"failures":1,"start":"2024-01-01T00:00:00.000Z","end":"2024-01-01T00:00:00.020Z","duration":20}]`)
		require.True(t, ok)
		require.NotNil(t, e.Stats)
		assert.Equal(t, 2, e.Stats.Tests)
		assert.Equal(t, 1, e.Stats.Failures)
		assert.Equal(t, int64(20), e.Stats.Duration)
	})

	t.Run("hook failure", func(t *testing.T) {
		e, ok := p.ParseLine(`["fail",{"title":"\"before each\" hook for \"adds\"","fullTitle":"math \"before each\" hook for \"adds\"","err":"boom"}]`)
		require.True(t, ok)
		assert.True(t, e.IsHook())
	})
}

func TestMochaJSONStreamParser_NotEvents(t *testing.T) {
	p := NewMochaJSONStreamParser()
	for _, line := range []string{
		"",
		"console.log output",
		"[1, 2, 3]",
		`["unknown",{}]`,
		`["pass","not an object"]`,
		"[not json",
		"Debugger listening on ws://127.0.0.1:9229/abc",
	} {
		_, ok := p.ParseLine(line)
		assert.False(t, ok, line)
	}
}
