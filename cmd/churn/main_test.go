package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnscope/artifact"
	"github.com/YuminosukeSato/churnscope/dataset"
)

const customers = "testdata/customers.csv"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.Execute()
	return out.String(), err
}

func smallEnsembles(t *testing.T) {
	t.Setenv("CHURN_SELECTION_EXTRA_TREES_ESTIMATORS", "10")
	t.Setenv("CHURN_TRAIN_FOREST_N_ESTIMATORS", "10")
	t.Setenv("CHURN_LOG_LEVEL", "error")
}

func TestRunThenPredict(t *testing.T) {
	smallEnsembles(t)
	dir := t.TempDir()

	out, err := execute(t, "run", customers, "--out", dir, "--seed", "7")
	require.NoError(t, err, out)
	assert.Contains(t, out, "best: ")
	assert.Contains(t, out, filepath.Join(dir, "model.gob"))

	meta, err := artifact.LoadMetadata(filepath.Join(dir, "model.gob"))
	require.NoError(t, err)
	assert.Equal(t, "Churn", meta.Target)

	out, err = execute(t, "predict", filepath.Join(dir, "model.gob"), customers, "--out", dir)
	require.NoError(t, err, out)
	pred, err := dataset.ReadCSV(strings.NewReader(out), dataset.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"customerID", "churn_prediction", "churn_probability"}, pred.Names())
	assert.Equal(t, 59, pred.Rows(), "the row with blank TotalCharges is not scored")

	file := filepath.Join(dir, "predictions.csv")
	_, err = execute(t, "predict", filepath.Join(dir, "model.gob"), customers, "-o", file, "--id-column", "none")
	require.NoError(t, err)
	saved, err := dataset.LoadCSV(file, dataset.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"churn_prediction", "churn_probability"}, saved.Names())
}

func TestPrepareThenTrain(t *testing.T) {
	smallEnsembles(t)
	t.Setenv("CHURN_TRAIN_REBALANCE", "false")
	dir := t.TempDir()

	out, err := execute(t, "prepare", customers, "--out", dir, "--apply-selection")
	require.NoError(t, err, out)
	assert.Contains(t, out, "features: 12")
	assert.FileExists(t, filepath.Join(dir, "scaled_churn.csv"))
	assert.FileExists(t, filepath.Join(dir, "selection.yaml"))

	out, err = execute(t, "train", filepath.Join(dir, "scaled_churn.csv"), "--out", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "rebalanced false")
	assert.FileExists(t, filepath.Join(dir, "training.yaml"))
}

func TestEDACommand(t *testing.T) {
	t.Setenv("CHURN_LOG_LEVEL", "error")
	dir := t.TempDir()
	out, err := execute(t, "eda", customers, "--out", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "missing: TotalCharges 1")
	assert.Contains(t, out, "outliers: TotalCharges ")
	assert.FileExists(t, filepath.Join(dir, "profile.yaml"))
	assert.FileExists(t, filepath.Join(dir, "charts", "missing_raw.png"))
}

func TestConfigCommands(t *testing.T) {
	t.Setenv("CHURN_LOG_LEVEL", "error")
	out, err := execute(t, "config", "show", "--seed", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "target: Churn")
	assert.Contains(t, out, "seed: 3")

	path := filepath.Join(t.TempDir(), "churn.yaml")
	_, err = execute(t, "config", "init", path)
	require.NoError(t, err)
	_, err = execute(t, "config", "init", path)
	assert.Error(t, err, "refuses to overwrite")

	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "selection_metric: f1")
}

func TestInvalidConfigFails(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "config", "show")
	assert.Error(t, err)

	t.Setenv("CHURN_TRAIN_TEST_SIZE", "1.5")
	_, err = execute(t, "config", "show")
	assert.Error(t, err)

	_, err = execute(t, "run")
	assert.Error(t, err, "missing input argument")
}
