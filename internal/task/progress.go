package task

import "context"

// ReportFunc receives in-flight progress from a running handler. The
// worker pool wires it to the result backend; inline dispatch wires it to
// a no-op.
type ReportFunc func(current, total int, status string)

type reporterKey struct{}

// WithReporter returns a context carrying a progress reporter for one
// execution.
func WithReporter(ctx context.Context, report ReportFunc) context.Context {
	return context.WithValue(ctx, reporterKey{}, report)
}

// Report sends a progress update from a handler. Safe to call when no
// reporter is attached.
func Report(ctx context.Context, current, total int, status string) {
	if report, ok := ctx.Value(reporterKey{}).(ReportFunc); ok && report != nil {
		report(current, total, status)
	}
}
