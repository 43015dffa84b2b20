package config

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Duration
	}{
		{name: "go duration", input: "90m", want: 90 * time.Minute},
		{name: "days", input: "3d", want: 72 * time.Hour},
		{name: "weeks", input: "2w", want: 14 * 24 * time.Hour},
		{name: "upper case days", input: "1D", want: 24 * time.Hour},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDuration(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestParseDurationInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "3y", "-d"} {
		if _, err := ParseDuration(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestGetDSN(t *testing.T) {
	c := &Config{DBDriver: "mysql", DBUser: "u", DBPassword: "p", DBHost: "h", DBPort: "3306", DBName: "d"}
	if got := c.GetDSN(); got != "u:p@tcp(h:3306)/d?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true" {
		t.Fatalf("unexpected mysql dsn: %s", got)
	}
	c.DBDriver = "postgres"
	c.DBPort = "5432"
	if got := c.GetDSN(); got != "host=h port=5432 user=u password=p dbname=d sslmode=disable TimeZone=UTC" {
		t.Fatalf("unexpected postgres dsn: %s", got)
	}
}
