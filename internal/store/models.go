package store

import (
	"database/sql"
	"time"
)

// nullUnix stores a zero timestamp as NULL.
func nullUnix(sec int64) sql.NullInt64 {
	if sec == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: sec, Valid: true}
}

func fromNullUnix(ns sql.NullInt64) int64 {
	if !ns.Valid {
		return 0
	}
	return ns.Int64
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// requireRow maps a write that touched no row to ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
