package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnscope/preprocessing"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, "Churn", c.Data.Target)
	assert.Equal(t, "Yes", c.Data.Positive)
	assert.Equal(t, []string{"customerID", "tenure"}, c.Clean.DropColumns)
	assert.Equal(t, 12, c.Selection.K)
	assert.Equal(t, 100, c.Selection.ExtraTreesEstimators)
	assert.Equal(t, 0.005, c.Selection.LassoAlpha)
	assert.Equal(t, 0.2, c.Train.TestSize)
	assert.Equal(t, uint64(0), c.Train.Seed)
	assert.Equal(t, 0.35, c.Train.ImbalanceThreshold)
	assert.Equal(t, []string{DecisionTree, RandomForest}, c.Train.Candidates)
	assert.Equal(t, "f1", c.Train.SelectionMetric)
	assert.Equal(t, 0.5, c.Clean.Outlier.IQRK)

	b := c.Bucketizer()
	assert.Equal(t, []float64{1, 13, 25, 37, 49, 61, 73}, b.Edges())
	assert.Equal(t, "61-72", b.BucketLabels()[5])
}

func TestCleanConfigMatchesPackageDefault(t *testing.T) {
	cc, err := Default().CleanConfig()
	require.NoError(t, err)
	want := preprocessing.DefaultCleanConfig()
	assert.Equal(t, want.CoerceColumns, cc.CoerceColumns)
	assert.Equal(t, want.DropColumns, cc.DropColumns)
	assert.Equal(t, want.BucketSource, cc.BucketSource)
	assert.Equal(t, want.BucketColumn, cc.BucketColumn)
	assert.Equal(t, want.Bucket.Edges(), cc.Bucket.Edges())
	assert.Equal(t, want.Missing, cc.Missing)
	assert.Equal(t, want.OutlierClip.Column, cc.OutlierClip.Column)
	assert.Equal(t, want.OutlierClip.Enabled, cc.OutlierClip.Enabled)
	assert.Nil(t, cc.OutlierClip.Bounds, "bounds are fitted by the cleaner")
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "churn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data:
  target: Exited
  positive: "1"
selection:
  k: 5
train:
  candidates: [random_forest, logistic_regression]
  test_size: 0.25
clean:
  missing: impute
`), 0o644))

	t.Setenv("CHURN_TRAIN_TEST_SIZE", "0.3")
	t.Setenv("CHURN_TRAIN_SEED", "42")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Exited", c.Data.Target)
	assert.Equal(t, "1", c.Data.Positive)
	assert.Equal(t, 5, c.Selection.K)
	assert.Equal(t, []string{RandomForest, LogisticRegression}, c.Train.Candidates)
	assert.Equal(t, 0.3, c.Train.TestSize, "env wins over file")
	assert.Equal(t, uint64(42), c.Train.Seed)
	assert.Equal(t, "impute", c.Clean.Missing)
	assert.Equal(t, 100, c.Selection.ExtraTreesEstimators, "defaults fill the rest")

	cc, err := c.CleanConfig()
	require.NoError(t, err)
	assert.Equal(t, preprocessing.Impute, cc.Missing.Strategy)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	c := Default()
	c.Train.Candidates = []string{LogisticRegression}
	c.Selection.Apply = true
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, Save(c, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.Train.Candidates, loaded.Train.Candidates)
	assert.True(t, loaded.Selection.Apply)
	assert.Equal(t, c.Clean.Bucket.Width, loaded.Clean.Bucket.Width)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty target", func(c *Config) { c.Data.Target = "" }},
		{"long delimiter", func(c *Config) { c.Data.Delimiter = ";;" }},
		{"bad missing", func(c *Config) { c.Clean.Missing = "zero" }},
		{"bad bucket", func(c *Config) { c.Clean.Bucket.Width = 0 }},
		{"bad clip", func(c *Config) { c.Clean.Outlier.Enabled = true; c.Clean.Outlier.Lower = 0.9 }},
		{"negative iqr k", func(c *Config) { c.Clean.Outlier.IQRK = -1 }},
		{"zero k", func(c *Config) { c.Selection.K = 0 }},
		{"negative alpha", func(c *Config) { c.Selection.LassoAlpha = -1 }},
		{"test size", func(c *Config) { c.Train.TestSize = 1 }},
		{"threshold", func(c *Config) { c.Train.ImbalanceThreshold = 0.8 }},
		{"no candidates", func(c *Config) { c.Train.Candidates = nil }},
		{"unknown candidate", func(c *Config) { c.Train.Candidates = []string{"svm"} }},
		{"metric", func(c *Config) { c.Train.SelectionMetric = "kappa" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestReadOptions(t *testing.T) {
	c := Default()
	opts := c.ReadOptions()
	assert.Equal(t, ',', opts.Delimiter)
	assert.Nil(t, opts.NAValues)

	c.Data.Delimiter = ";"
	c.Data.NAValues = []string{"NA"}
	opts = c.ReadOptions()
	assert.Equal(t, ';', opts.Delimiter)
	assert.Equal(t, []string{"", "NA"}, opts.NAValues)
	assert.Equal(t, filepath.Join("out", "model.gob"), c.Path(c.Output.Model))
}
