package mysql

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
)

func TestIsDuplicate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"duplicate", &mysql.MySQLError{Number: 1062}, true},
		{"wrapped", fmt.Errorf("x: %w", &mysql.MySQLError{Number: 1062}), true},
		{"deadlock", &mysql.MySQLError{Number: 1213}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := isDuplicate(tt.err); got != tt.want {
			t.Errorf("%s: got %v", tt.name, got)
		}
	}
}

func TestNullable(t *testing.T) {
	if nullable(nil).Valid {
		t.Fatal("nil should be invalid")
	}
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	n := nullable(&ts)
	if !n.Valid || n.Time.Location() != time.UTC || !n.Time.Equal(ts) {
		t.Fatalf("nullable = %+v", n)
	}
	back := nullTime(sql.NullTime{Time: ts, Valid: true})
	if back == nil || !back.Equal(ts) {
		t.Fatalf("nullTime = %v", back)
	}
}
