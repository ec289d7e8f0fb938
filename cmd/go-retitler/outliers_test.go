package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/go-retitler/internal/outliers"
)

func TestRenderOutliers(t *testing.T) {
	var buf bytes.Buffer
	err := renderOutliers(&buf, []outliers.Score{
		{DocumentID: "12", Title: "Gas bill", Score: 0.81234},
		{DocumentID: "7", Title: "Payslip", Score: 0.5},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Gas bill")
	assert.Contains(t, out, "0.8123")
	assert.Contains(t, out, "0.5000")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("Gas bill")), bytes.Index(buf.Bytes(), []byte("Payslip")))
}
