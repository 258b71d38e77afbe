package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const erDupEntry = 1062

// UniqueViolation reports whether err is a MySQL duplicate-entry error and,
// if so, the name of the violated key (for example "campaign_runs.PRIMARY").
func UniqueViolation(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != erDupEntry {
		return "", false
	}
	return duplicateKey(myErr.Message), true
}

// duplicateKey extracts the key name from
// "Duplicate entry '<v>' for key '<key>'".
func duplicateKey(message string) string {
	_, key, found := strings.Cut(message, "for key ")
	if !found {
		return ""
	}
	return strings.Trim(strings.TrimSpace(key), "`\"'")
}
