package lifecycle

import "testing"

func TestParseStatus(t *testing.T) {
	status, ok := ParseStatus(" classified_1 ")
	if !ok {
		t.Fatal("expected known status")
	}
	if status != StatusClassified1 {
		t.Fatalf("got %s", status)
	}

	if _, ok := ParseStatus("NOT_A_STATUS"); ok {
		t.Fatal("expected unknown status")
	}
	if _, ok := ParseStatus(""); ok {
		t.Fatal("expected empty to be unknown")
	}
}

func TestSelfTransitionAlwaysLegal(t *testing.T) {
	for _, status := range AllStatuses() {
		if !CanTransition(status, status) {
			t.Fatalf("self-transition rejected for %s", status)
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, terminal := range []Status{
		StatusReadyForDocling,
		StatusException1,
		StatusException2,
		StatusException3,
		StatusMergerSkipped,
	} {
		if !IsTerminal(terminal) {
			t.Fatalf("%s should be terminal", terminal)
		}
		for _, target := range AllStatuses() {
			if target == terminal {
				continue
			}
			if CanTransition(terminal, target) {
				t.Fatalf("terminal %s allows exit to %s", terminal, target)
			}
		}
	}
}

func TestCoreTransitionPaths(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusRaw, StatusClassified1},
		{StatusRaw, StatusMergedDirect},
		{StatusRaw, StatusException1},
		{StatusClassified1, StatusPendingConvert},
		{StatusClassified1, StatusPendingExtract},
		{StatusClassified1, StatusPendingNormalize},
		{StatusClassified1, StatusMergedDirect},
		{StatusClassified1, StatusMergerSkipped},
		{StatusPendingExtract, StatusClassified2},
		{StatusPendingConvert, StatusPendingNormalize},
		{StatusPendingConvert, StatusException1},
		{StatusClassified2, StatusClassified3},
		{StatusClassified2, StatusPendingNormalize},
		{StatusClassified2, StatusMergedProcessed},
		{StatusClassified3, StatusMergedProcessed},
		{StatusClassified3, StatusException3},
		{StatusMergedDirect, StatusReadyForDocling},
		{StatusMergedProcessed, StatusReadyForDocling},
		{StatusMergedProcessed, StatusMergerSkipped},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to Status }{
		{StatusRaw, StatusClassified2},
		{StatusRaw, StatusReadyForDocling},
		{StatusClassified1, StatusClassified2},
		{StatusClassified3, StatusClassified2},
		{StatusMergedDirect, StatusClassified1},
		{StatusPendingExtract, StatusPendingConvert},
		{StatusPendingNormalize, StatusPendingConvert},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be illegal", tc.from, tc.to)
		}
	}
}

func TestCycleDerivation(t *testing.T) {
	cases := map[Status]int{
		StatusRaw:             1,
		StatusClassified1:     1,
		StatusClassified2:     2,
		StatusClassified3:     3,
		StatusException2:      2,
		StatusPendingConvert:  0,
		StatusMergedProcessed: 0,
	}
	for status, want := range cases {
		if got := Cycle(status); got != want {
			t.Errorf("Cycle(%s) = %d, want %d", status, got, want)
		}
	}
}

func TestClassifiedAndExceptionFor(t *testing.T) {
	if ClassifiedFor(1) != StatusClassified1 || ClassifiedFor(2) != StatusClassified2 || ClassifiedFor(3) != StatusClassified3 {
		t.Fatal("ClassifiedFor mapping broken")
	}
	if ExceptionFor(1) != StatusException1 || ExceptionFor(3) != StatusException3 {
		t.Fatal("ExceptionFor mapping broken")
	}
	// Cycle numbers above the ceiling clamp to the last cycle.
	if ClassifiedFor(9) != StatusClassified3 || ExceptionFor(9) != StatusException3 {
		t.Fatal("expected clamp to cycle 3")
	}
}
