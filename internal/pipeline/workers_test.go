package pipeline

import (
	"testing"

	"docprep/internal/testsupport"
)

func TestLimitsForHonorsOverride(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(3))
	limits := limitsFor(cfg)
	if limits.classify != 3 || limits.process != 3 || limits.merge != 3 {
		t.Fatalf("limits = %+v", limits)
	}
}

func TestLimitsForDefaultsArePositive(t *testing.T) {
	limits := limitsFor(testsupport.NewConfig(t))
	if limits.classify < 1 || limits.process < 1 || limits.merge < 1 {
		t.Fatalf("limits = %+v", limits)
	}
	if limits.classify < limits.process {
		t.Fatal("classification must run at least as wide as processing")
	}
}
