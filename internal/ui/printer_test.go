package ui

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufPrinter(jsonMode bool) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	p := NewPrinter(WithJSON(jsonMode), WithWriters(&out, &errOut))
	p.styles = NoColorStyles()
	return p, &out, &errOut
}

func TestPrinter_TextMode(t *testing.T) {
	p, out, _ := newBufPrinter(false)

	p.Header("Status")
	p.Success("service running (pid %d)", 42)
	p.Warning("index missing")
	p.Field("Documents", "%d", 3)
	p.Line("done")

	s := out.String()
	assert.Contains(t, s, "Status")
	assert.Contains(t, s, "service running (pid 42)")
	assert.Contains(t, s, "index missing")
	assert.Contains(t, s, "Documents:")
	assert.Contains(t, s, "done")
}

func TestPrinter_JSONModeSuppressesText(t *testing.T) {
	p, out, _ := newBufPrinter(true)

	p.Header("Status")
	p.Success("hidden")
	p.Field("Documents", "%d", 3)
	assert.Empty(t, out.String())

	emitted := p.Emit(map[string]int{"documents": 3})
	assert.True(t, emitted)

	var decoded map[string]int
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, 3, decoded["documents"])
}

func TestPrinter_EmitNoopInTextMode(t *testing.T) {
	p, out, _ := newBufPrinter(false)
	assert.False(t, p.Emit(map[string]int{"x": 1}))
	assert.Empty(t, out.String())
}

func TestPrinter_ErrorGoesToStderr(t *testing.T) {
	p, out, errOut := newBufPrinter(true)
	p.Error("boom: %s", "detail")
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "boom: detail")
}
