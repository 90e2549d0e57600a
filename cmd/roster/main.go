// Command roster imports students from an XLSX or CSV export of the admissions roster.
package main

import (
	"flag"
	"os"

	"github.com/bvce/edupay/pkg/store"
	"github.com/sirupsen/logrus"
)

func main() {
	dbPath := flag.String("db", "edupay.db", "path to the SQLite database")
	file := flag.String("file", "", "roster file (.xlsx or .csv)")
	flag.Parse()

	logrus.SetFormatter(&logrus.JSONFormatter{})
	if *file == "" {
		logrus.Fatal("-file is required")
	}

	s, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open store")
	}
	defer s.Close()

	rows, err := readRows(*file)
	if err != nil {
		logrus.WithError(err).WithField("file", *file).Fatal("Failed to read roster")
	}
	report, err := importRoster(s, rows)
	if err != nil {
		logrus.WithError(err).Fatal("Roster import failed")
	}

	for _, e := range report.Errors {
		logrus.WithError(e.Err).WithFields(logrus.Fields{"row": e.Row, "usn": e.USN}).Warn("Row skipped")
	}
	logrus.WithFields(logrus.Fields{
		"created": report.Created,
		"skipped": report.Skipped,
		"errors":  len(report.Errors),
	}).Info("Roster import finished")

	if len(report.Errors) > 0 {
		// Deferred Close does not run after os.Exit.
		s.Close()
		os.Exit(2)
	}
}
