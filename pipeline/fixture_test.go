package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/churnscope/config"
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

// customers generates a deterministic Telco-like table of n rows. Short
// month-to-month contracts churn; row 4 has a blank TotalCharges.
func customers(n int) string {
	contracts := []string{"Month-to-month", "One year", "Two year"}
	var b strings.Builder
	b.WriteString("customerID,gender,SeniorCitizen,Partner,tenure,Contract,MonthlyCharges,TotalCharges,Churn\n")
	for i := 0; i < n; i++ {
		contract := contracts[i%3]
		tenure := 1 + (i*7)%72
		monthly := 20.5 + float64((i*13)%90)
		total := fmt.Sprintf("%.2f", monthly*float64(tenure))
		if i == 4 {
			total = " "
		}
		gender := "Female"
		if i%2 == 1 {
			gender = "Male"
		}
		partner := "No"
		if (i/2)%2 == 1 {
			partner = "Yes"
		}
		senior := 0
		if i%5 == 0 {
			senior = 1
		}
		churn := "No"
		if (contract == "Month-to-month" && tenure < 36) || i%17 == 0 {
			churn = "Yes"
		}
		fmt.Fprintf(&b, "K%03d,%s,%d,%s,%d,%s,%.2f,%s,%s\n",
			i, gender, senior, partner, tenure, contract, monthly, total, churn)
	}
	return b.String()
}

func readTable(t *testing.T, csv string) *dataset.Table {
	t.Helper()
	tbl, err := dataset.ReadCSV(strings.NewReader(csv), dataset.ReadOptions{})
	require.NoError(t, err)
	return tbl
}

func writeCSV(t *testing.T, dir, csv string) string {
	t.Helper()
	path := filepath.Join(dir, "customers.csv")
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))
	return path
}

// testConfig returns the defaults with small ensembles and output under dir.
func testConfig(dir string) *config.Config {
	c := config.Default()
	c.Output.Dir = dir
	c.Selection.ExtraTreesEstimators = 10
	c.Train.Forest.NEstimators = 10
	c.Train.Seed = 42
	return c
}
