// Command churn runs the customer churn pipeline from the command line.
//
//	churn eda data/telco.csv
//	churn run data/telco.csv --out out
//	churn predict out/model.gob data/new_customers.csv
package main

import "os"

func main() {
	os.Exit(Execute(os.Args[1:]))
}
