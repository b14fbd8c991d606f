package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunEDA(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	res, err := RunEDA(readTable(t, tenRows), cfg)
	require.NoError(t, err)

	// the blank TotalCharges cell counts as missing once coerced
	require.NotNil(t, res.Raw.Column("TotalCharges"))
	assert.Equal(t, 1, res.Raw.Column("TotalCharges").Missing)
	assert.Equal(t, []string{"TotalCharges"}, res.Raw.WithMissing())
	assert.Equal(t, 10, res.Raw.Rows)

	// C10 is the only TotalCharges above Q3 + 0.5*IQR
	require.NotNil(t, res.Outliers)
	assert.Equal(t, "TotalCharges", res.Outliers.Column)
	assert.InDelta(t, 151.65, res.Outliers.Fence.Q1, 1e-9)
	assert.InDelta(t, 1889.5, res.Outliers.Fence.Q3, 1e-9)
	assert.InDelta(t, 2758.425, res.Outliers.Fence.Upper, 1e-9)
	assert.Equal(t, 1, res.Outliers.Count)

	assert.Equal(t, 9, res.Cleaned.Rows)
	assert.Empty(t, res.Cleaned.WithMissing())
	assert.Nil(t, res.Cleaned.Column("customerID"))

	charts := filepath.Join(dir, "charts")
	for _, name := range []string{"missing_raw.png", "missing.png", "count_Contract.png", "hist_MonthlyCharges.png", "correlation.png", "correlation_encoded.png"} {
		assert.Contains(t, res.Charts, filepath.Join(charts, name))
		assert.FileExists(t, filepath.Join(charts, name))
	}

	require.NotEmpty(t, res.Correlations)
	for i := 1; i < len(res.Correlations); i++ {
		assert.GreaterOrEqual(t, res.Correlations[i-1].Value, res.Correlations[i].Value)
	}
	assert.FileExists(t, filepath.Join(dir, "profile.yaml"))
	assert.Equal(t, filepath.Join(dir, "profile.yaml"), res.ProfilePath)
}

func TestRunEDAWithoutOutlierColumn(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Clean.Outlier.Column = "NoSuchColumn"

	res, err := RunEDA(readTable(t, tenRows), cfg)
	require.NoError(t, err)
	assert.Nil(t, res.Outliers)
}
