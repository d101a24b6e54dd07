package labelparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `Spannung: P = 10-30V DC
S = Schließer

Schaltabstand: 20 = 20mm

Hinweis: Nur für Industrieanwendungen`

func TestParse(t *testing.T) {
	segs := Parse(sample, "PSIC20B")
	require.Len(t, segs, 4)

	assert.Equal(t, "Spannung", segs[0].Title)
	assert.Equal(t, "P", segs[0].CodeSegment)
	assert.Equal(t, "10-30V DC", segs[0].Label)
	require.NotNil(t, segs[0].PositionStart)
	assert.Equal(t, 1, *segs[0].PositionStart)
	assert.Equal(t, 1, *segs[0].PositionEnd)

	// second code line in the same block stays plain text
	assert.Equal(t, "", segs[1].CodeSegment)
	assert.Equal(t, "S = Schließer", segs[1].Label)
	assert.Equal(t, "Spannung", segs[1].Title)

	assert.Equal(t, "20", segs[2].CodeSegment)
	assert.Equal(t, 5, *segs[2].PositionStart)
	assert.Equal(t, 6, *segs[2].PositionEnd)

	assert.Equal(t, "Hinweis", segs[3].Title)
	assert.Nil(t, segs[3].PositionStart)
	assert.Equal(t, 3, segs[3].DisplayOrder)
}

func TestParseWithoutTitle(t *testing.T) {
	segs := Parse("X = Sonder", "")
	require.Len(t, segs, 1)
	assert.Equal(t, "X", segs[0].CodeSegment)
	assert.Nil(t, segs[0].PositionStart)
	assert.Empty(t, Parse("   ", ""))
}

func TestMerge(t *testing.T) {
	rows := Merge("Spannung: P = 10-30V DC", "Voltage: P = 10-30V DC\n\nNote: industrial use", "PSIC")
	require.Len(t, rows, 2)
	assert.Equal(t, "10-30V DC", rows[0].LabelDE)
	assert.Equal(t, "10-30V DC", rows[0].LabelEN)
	assert.Equal(t, "Spannung", rows[0].Title)
	assert.Equal(t, "", rows[1].LabelDE)
	assert.Equal(t, "industrial use", rows[1].LabelEN)
}

func TestReconstruct(t *testing.T) {
	assert.Equal(t, sample, Reconstruct(Parse(sample, "PSIC20B")))
}
