package trace

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceScanner_Basic(tt *testing.T) {
	tt.Parallel()

	s := NewReferenceScanner(strings.NewReader("0x0 R\n0x40 W\n"), Lenient)

	ref, err := s.Scan()
	require.NoError(tt, err)
	assert.Equal(tt, Reference{Addr: 0x0, Kind: Read}, ref)

	ref, err = s.Scan()
	require.NoError(tt, err)
	assert.Equal(tt, Reference{Addr: 0x40, Kind: Write}, ref)

	_, err = s.Scan()
	assert.ErrorIs(tt, err, io.EOF)
}

func TestReferenceScanner_MissingKindDefaultsRead(tt *testing.T) {
	tt.Parallel()

	s := NewReferenceScanner(strings.NewReader("0x100\n"), Lenient)

	ref, err := s.Scan()
	require.NoError(tt, err)
	assert.Equal(tt, Reference{Addr: 0x100, Kind: Read}, ref)
}

func TestReferenceScanner_OverflowBecomesZeroRead_Lenient(tt *testing.T) {
	tt.Parallel()

	s := NewReferenceScanner(strings.NewReader("0xffffffffffffffffff R\n"), Lenient)

	ref, err := s.Scan()
	require.NoError(tt, err)
	assert.Equal(tt, Reference{Addr: 0, Kind: Read}, ref)
}

func TestReferenceScanner_OverflowFailsStrict(tt *testing.T) {
	tt.Parallel()

	s := NewReferenceScanner(strings.NewReader("0xffffffffffffffffff R\n"), Strict)

	_, err := s.Scan()
	assert.ErrorIs(tt, err, ErrTraceFormat)
}

func TestInstructionScanner_Basic(tt *testing.T) {
	tt.Parallel()

	s := NewInstructionScanner(strings.NewReader("0x1000 LOAD 0x2000\n0x1004 EXE\n"), Lenient)

	in, err := s.Scan()
	require.NoError(tt, err)
	assert.Equal(tt, Instruction{IP: 0x1000, Op: Load, Addr: 0x2000}, in)

	in, err = s.Scan()
	require.NoError(tt, err)
	assert.Equal(tt, Instruction{IP: 0x1004, Op: Exec, Addr: 0}, in)
}
