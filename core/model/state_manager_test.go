package model

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnscope/pkg/errors"
)

func TestStateManager(t *testing.T) {
	s := NewStateManager()
	assert.False(t, s.IsFitted())

	err := s.RequireFitted("StandardScaler", "Transform")
	require.Error(t, err)
	var nfe *errors.NotFittedError
	assert.True(t, errors.As(err, &nfe))
	assert.Equal(t, "Transform", nfe.Method)

	s.SetDimensions(3, 10)
	s.SetFitted()
	assert.NoError(t, s.RequireFitted("StandardScaler", "Transform"))
	assert.NoError(t, s.CheckFeatures("Transform", 3))

	err = s.CheckFeatures("Transform", 4)
	var de *errors.DimensionError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 3, de.Expected)
	assert.Equal(t, 4, de.Got)

	state := s.GetState()
	s.Reset()
	assert.False(t, s.IsFitted())
	s.SetState(state)
	nf, ns := s.GetDimensions()
	assert.True(t, s.IsFitted())
	assert.Equal(t, 3, nf)
	assert.Equal(t, 10, ns)
}

type persisted struct {
	Name  string
	Means []float64
	State ModelState
}

func TestSaveLoadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gob")
	in := persisted{Name: "scaler", Means: []float64{1.5, -2}, State: ModelState{Fitted: true, NFeatures: 2}}

	require.NoError(t, SaveModel(&in, path))

	var out persisted
	require.NoError(t, LoadModel(&out, path))
	assert.Equal(t, in, out)

	err := LoadModel(&out, filepath.Join(t.TempDir(), "missing.gob"))
	assert.Error(t, err)

	err = LoadModelFromReader(&out, bytes.NewReader([]byte("not gob")))
	assert.Error(t, err)
}
