package preprocessing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnscope/dataset"
)

// tenRows has one non-numeric TotalCharges value (C04) and two rows (C08, C09)
// that differ only in their identifier and target.
const tenRows = `customerID,gender,SeniorCitizen,Partner,tenure,Contract,MonthlyCharges,TotalCharges,Churn
C01,Female,0,Yes,1,Month-to-month,29.85,29.85,No
C02,Male,0,No,34,One year,56.95,1889.5,No
C03,Male,0,No,2,Month-to-month,53.85,108.15,Yes
C04,Female,0,Yes,0,Two year,52.55, ,No
C05,Female,0,No,2,Month-to-month,70.7,151.65,Yes
C06,Female,1,No,8,Month-to-month,99.65,820.5,Yes
C07,Male,0,Yes,22,Month-to-month,89.1,1949.4,No
C08,Male,0,No,13,One year,45.25,588.25,No
C09,Male,0,No,13,One year,45.25,588.25,Yes
C10,Female,0,Yes,72,Two year,104.8,7454.25,No
`

func loadTenRows(t *testing.T) *dataset.Table {
	t.Helper()
	tbl, err := dataset.ReadCSV(strings.NewReader(tenRows), dataset.ReadOptions{})
	require.NoError(t, err)
	return tbl
}
