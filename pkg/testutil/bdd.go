package testutil

import "testing"

// Scenario steps run as nested subtests named "given ...", "when ...",
// "then ..." and "and ...". Each reports the subtest result, so a scenario
// can skip the steps that depend on a failed one.
type keyword string

const (
	kwGiven keyword = "given"
	kwWhen  keyword = "when"
	kwThen  keyword = "then"
	kwAnd   keyword = "and"
)

func step(t *testing.T, kw keyword, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return t.Run(string(kw)+" "+desc, fn)
}

func Given(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return step(t, kwGiven, desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return step(t, kwWhen, desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return step(t, kwThen, desc, fn)
}

func And(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return step(t, kwAnd, desc, fn)
}
