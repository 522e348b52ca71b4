package db

import (
	"context"
	"testing"
	"time"
)

func TestOptionsWithDefaults(t *testing.T) {
	opts := Options{}.withDefaults()

	if opts.MaxOpenConns != DefaultMaxOpenConns {
		t.Errorf("expected MaxOpenConns %d, got %d", DefaultMaxOpenConns, opts.MaxOpenConns)
	}
	if opts.MaxIdleConns != DefaultMaxIdleConns {
		t.Errorf("expected MaxIdleConns %d, got %d", DefaultMaxIdleConns, opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime != DefaultConnMaxLifetime {
		t.Errorf("expected ConnMaxLifetime %s, got %s", DefaultConnMaxLifetime, opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime != DefaultConnMaxIdleTime {
		t.Errorf("expected ConnMaxIdleTime %s, got %s", DefaultConnMaxIdleTime, opts.ConnMaxIdleTime)
	}
}

func TestOptionsWithDefaults_ExplicitValuesKept(t *testing.T) {
	opts := Options{
		MaxOpenConns:    50,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute,
	}.withDefaults()

	if opts.MaxOpenConns != 50 {
		t.Errorf("expected MaxOpenConns 50, got %d", opts.MaxOpenConns)
	}
	if opts.MaxIdleConns != 10 {
		t.Errorf("expected MaxIdleConns 10, got %d", opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime != time.Hour {
		t.Errorf("expected ConnMaxLifetime 1h, got %s", opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime != time.Minute {
		t.Errorf("expected ConnMaxIdleTime 1m, got %s", opts.ConnMaxIdleTime)
	}
}

func TestConnect_EmptyURL(t *testing.T) {
	if _, err := Connect(context.Background(), "", Options{}); err == nil {
		t.Fatal("expected error for empty database URL")
	}
}
