package config

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseString(tt *testing.T, cfg *Config, src string) error {
	tt.Helper()

	return Parse(cfg, io.NopCloser(strings.NewReader(src)), "")
}

func TestParse_RecognisedKeys(tt *testing.T) {
	tt.Parallel()

	src := `
# a comment
block_size = 64
on_chip_frequency 2000
L1D_assoc = 8
L1D_size = 32768
L1D_num_mshrs 4
mem_controller_type = PALP
tRCD = 5
RAPL = 0.9
THB = -8
power_limit_enabled = true
`

	cfg := New()
	require.NoError(tt, parseString(tt, cfg, src))

	assert.Equal(tt, 64, cfg.BlockSize)
	assert.Equal(tt, 2000, cfg.OnChipFrequency)
	assert.Equal(tt, "PALP", cfg.MemControllerType)
	assert.Equal(tt, 5, cfg.TRCD)
	assert.InDelta(tt, 0.9, cfg.RAPL, 1e-9)
	assert.Equal(tt, -8, cfg.THB)
	assert.True(tt, cfg.PowerLimitEnabled)

	require.Contains(tt, cfg.Levels, "L1D")
	assert.Equal(tt, 8, cfg.Levels["L1D"].Assoc)
	assert.Equal(tt, 32768, cfg.Levels["L1D"].Size)
	assert.Equal(tt, 4, cfg.Levels["L1D"].NumMSHRs)
}

func TestParse_UnrecognisedKeyIgnored(tt *testing.T) {
	tt.Parallel()

	cfg := New()
	err := parseString(tt, cfg, "some_future_key 42\n")
	assert.NoError(tt, err)
	assert.Equal(tt, "42", cfg.Raw["some_future_key"])
}

func TestParse_MalformedLineFails(tt *testing.T) {
	tt.Parallel()

	cfg := New()
	err := parseString(tt, cfg, "block_size 64 extra_token\n")
	require.Error(tt, err)
	assert.True(tt, errors.Is(err, ErrConfigParse))
}

func TestParse_NonIntegerValueFails(tt *testing.T) {
	tt.Parallel()

	cfg := New()
	err := parseString(tt, cfg, "block_size not_a_number\n")
	require.Error(tt, err)
	assert.True(tt, errors.Is(err, ErrConfigParse))
}

func TestParse_LayersAcrossFiles(tt *testing.T) {
	tt.Parallel()

	cfg := New()
	require.NoError(tt, parseString(tt, cfg, "block_size 64\n"))
	require.NoError(tt, parseString(tt, cfg, "block_size 128\n"))

	assert.Equal(tt, 128, cfg.BlockSize, "later files override earlier ones")
}
