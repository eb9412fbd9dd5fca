// Package testutil holds shared helpers for the heavier tests.
package testutil

import (
	"flag"
	"math/rand"
	"testing"
)

var runTorture = flag.Bool("torture", false, "run long/torture tests")

// RequireTorture skips the test unless -torture was passed.
func RequireTorture(t *testing.T) {
	t.Helper()
	if !*runTorture {
		t.Skip("skipping torture test (use -torture to enable)")
	}
}

// Rng returns a deterministic generator seeded per test name, so failures
// reproduce without flag juggling.
func Rng(t *testing.T) *rand.Rand {
	t.Helper()
	var seed int64
	for _, c := range t.Name() {
		seed = seed*131 + int64(c)
	}
	return rand.New(rand.NewSource(seed))
}
