package preprocessing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
)

func cleanedTenRows(t *testing.T) *dataset.Table {
	t.Helper()
	cleaned, _, err := NewCleaner(DefaultCleanConfig()).Clean(loadTenRows(t))
	require.NoError(t, err)
	return cleaned
}

func TestEncodeBinaryIsIdempotent(t *testing.T) {
	tbl := cleanedTenRows(t)

	once, err := EncodeBinary(tbl, "Churn", "Yes")
	require.NoError(t, err)
	twice, err := EncodeBinary(once, "Churn", "Yes")
	require.NoError(t, err)

	want := []float64{0, 0, 1, 1, 1, 0, 0, 1, 0}
	assert.Equal(t, want, once.Column("Churn").Num)
	assert.Equal(t, want, twice.Column("Churn").Num)
	assert.Equal(t, dataset.Categorical, tbl.Column("Churn").Kind, "input table is not modified")

	// exact match only
	odd, err := dataset.NewTable(dataset.NewCategoricalColumn("c", []string{"Yes", "yes", "Y", ""}))
	require.NoError(t, err)
	out, err := EncodeBinary(odd, "c", "Yes")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 0}, out.Column("c").Num)

	_, err = EncodeBinary(odd, "missing", "Yes")
	assert.Error(t, err)
}

func TestOneHotEncoderTenRows(t *testing.T) {
	tbl, err := EncodeBinary(cleanedTenRows(t), "Churn", "Yes")
	require.NoError(t, err)

	enc := NewOneHotEncoder()
	enc.Known = map[string][]string{"tenure_group": NewTenureBucketizer().BucketLabels()}
	encoded, err := enc.FitTransform(tbl)
	require.NoError(t, err)

	want := []string{
		"SeniorCitizen", "MonthlyCharges", "TotalCharges", "Churn",
		"gender_Female", "gender_Male",
		"Partner_No", "Partner_Yes",
		"Contract_Month-to-month", "Contract_One year", "Contract_Two year",
		"tenure_group_1-12", "tenure_group_13-24", "tenure_group_25-36",
		"tenure_group_37-48", "tenure_group_49-60", "tenure_group_61-72",
	}
	assert.Equal(t, want, encoded.Names())
	assert.Equal(t, 9, encoded.Rows())
	assert.Equal(t, 13, enc.Vocabulary.Size())

	// unobserved bucket labels still get an all-zero indicator
	assert.Equal(t, make([]float64, 9), encoded.Column("tenure_group_37-48").Num)

	// C08 and C09 (rows 6 and 7) share every feature but not the target
	for _, name := range encoded.Names() {
		if name == "Churn" {
			continue
		}
		c := encoded.Column(name)
		assert.Equal(t, c.Num[6], c.Num[7], "column %s", name)
	}
	assert.Equal(t, 0.0, encoded.Column("Churn").Num[6])
	assert.Equal(t, 1.0, encoded.Column("Churn").Num[7])

	// independent storage: changing one row's indicator leaves the other intact
	col := encoded.Column("Contract_One year")
	col.Num[6] = 0
	assert.Equal(t, 1.0, col.Num[7])

	// each categorical row sets exactly one indicator per column
	for i := 0; i < encoded.Rows(); i++ {
		sum := 0.0
		for _, name := range enc.Vocabulary.FeatureNames() {
			if len(name) > 8 && name[:8] == "Contract" {
				sum += encoded.Column(name).Num[i]
			}
		}
		if i != 6 {
			assert.Equal(t, 1.0, sum, "row %d", i)
		}
	}
}

func TestOneHotEncoderFrozenVocabulary(t *testing.T) {
	train, err := dataset.NewTable(
		dataset.NewNumericColumn("x", []float64{1, 2, 3}),
		dataset.NewCategoricalColumn("color", []string{"red", "blue", "red"}),
		dataset.NewCategoricalColumn("size", []string{"S", "M", "L"}),
	)
	require.NoError(t, err)

	enc := NewOneHotEncoder()
	require.NoError(t, enc.Fit(train))
	assert.Equal(t, []string{"blue", "red"}, enc.Vocabulary.Categories["color"])
	assert.Equal(t, []string{"L", "M", "S"}, enc.Vocabulary.Categories["size"])

	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(func(error) {})
	testLogger, _ := log.NewTestLogger(log.LevelDebug)
	enc.SetLogger(testLogger)

	// inference batch: only "red" present, plus an unseen "green"
	infer, err := dataset.NewTable(
		dataset.NewNumericColumn("x", []float64{4, 5}),
		dataset.NewCategoricalColumn("color", []string{"red", "green"}),
		dataset.NewCategoricalColumn("size", []string{"S", "S"}),
	)
	require.NoError(t, err)

	out, err := enc.Transform(infer)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "color_blue", "color_red", "size_L", "size_M", "size_S"}, out.Names())
	assert.Equal(t, []float64{0, 0}, out.Column("color_blue").Num, "expected indicator synthesized as zero")
	assert.Equal(t, []float64{1, 0}, out.Column("color_red").Num, "unseen category maps to all zeros")
	assert.Equal(t, []float64{0, 0}, out.Column("size_L").Num)

	require.Len(t, warnings, 1)
	var ucw *errors.UnseenCategoryWarning
	require.True(t, errors.As(warnings[0], &ucw))
	assert.Equal(t, "color", ucw.Column)
	assert.Equal(t, []string{"green"}, ucw.Values)
	assert.True(t, testLogger.ContainsField(log.ColumnKey, "color"))

	// a vocabulary column absent from the input is a schema mismatch
	noSize := infer.Drop("size")
	_, err = enc.Transform(noSize)
	var sme *errors.SchemaMismatchError
	require.True(t, errors.As(err, &sme))
	assert.Equal(t, []string{"size"}, sme.Missing)

	extra, err := infer.AddColumn(dataset.NewCategoricalColumn("brand", []string{"a", "b"}))
	require.NoError(t, err)
	_, err = enc.Transform(extra)
	require.True(t, errors.As(err, &sme))
	assert.Equal(t, []string{"brand"}, sme.Unexpected)

	// the same vocabulary restored from storage behaves identically
	restored := NewOneHotEncoderFromVocabulary(enc.Vocabulary)
	restored.SetLogger(testLogger)
	again, err := restored.Transform(infer)
	require.NoError(t, err)
	assert.Equal(t, out.Names(), again.Names())
	assert.Equal(t, out.Column("color_red").Num, again.Column("color_red").Num)
}

func TestOneHotEncoderNotFitted(t *testing.T) {
	tbl, err := dataset.NewTable(dataset.NewCategoricalColumn("c", []string{"a"}))
	require.NoError(t, err)
	_, err = NewOneHotEncoder().Transform(tbl)
	var nfe *errors.NotFittedError
	assert.True(t, errors.As(err, &nfe))
}
