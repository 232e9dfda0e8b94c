package testutil

import (
	"context"
	"testing"
	"time"
)

// Context returns a context bounded by d, cancelled automatically at test
// cleanup.
func Context(t testing.TB, d time.Duration) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}
