package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	var out bytes.Buffer
	cmd := newCommand(&out)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestListArch(t *testing.T) {
	out, err := run(t, "--arch", "gfx90a")
	require.NoError(t, err)
	assert.Contains(t, out, "gfx90a (")
	assert.Contains(t, out, "SQ_WAVES_sum")
	assert.Contains(t, out, "agent property CU_NUM")
	assert.NotContains(t, out, "gfx942")
}

func TestShowAST(t *testing.T) {
	out, err := run(t, "--arch", "gfx90a", "--ast", "SQ_WAVES_sum")
	require.NoError(t, err)
	assert.Contains(t, out, "gfx90a (1 counters)")
	assert.Contains(t, out, "reduce(SQ_WAVES,SUM)")
}

func TestUnknownCounter(t *testing.T) {
	_, err := run(t, "--arch", "gfx1100", "TCC_HIT")
	assert.Error(t, err)

	_, err = run(t, "--arch", "gfx000")
	assert.Error(t, err)
}
