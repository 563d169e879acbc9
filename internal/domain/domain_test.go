package domain

import "testing"

func TestAlert_DedupKeyNormalizesEmptyStrings(t *testing.T) {
	a := Alert{PlantID: "p1", Type: AlertTypeOffline, VendorAlarmCode: "", DeviceSN: ""}
	b := Alert{PlantID: "p1", Type: AlertTypeOffline, VendorAlarmCode: "", DeviceSN: ""}

	if a.DedupKey() != b.DedupKey() {
		t.Fatalf("derived OFFLINE alerts for the same plant must share a dedup key")
	}
}

func TestHigherSeverity(t *testing.T) {
	cases := []struct {
		a, b Severity
		want bool
	}{
		{SeverityCritical, SeverityHigh, true},
		{SeverityHigh, SeverityCritical, false},
		{SeverityLow, SeverityLow, false},
	}
	for _, tc := range cases {
		if got := HigherSeverity(tc.a, tc.b); got != tc.want {
			t.Fatalf("HigherSeverity(%s, %s) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestPollTicketID_IsDeterministic(t *testing.T) {
	if PollTicketID("p1") != PollTicketID("p1") {
		t.Fatalf("ticket id must be deterministic for the same plant id")
	}
	if PollTicketID("p1") == PollTicketID("p2") {
		t.Fatalf("ticket ids for different plants must differ")
	}
	want := "poll:plant:p1:latest"
	if got := PollTicketID("p1"); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBackfillTicketID(t *testing.T) {
	want := "daily:plant:p1:2026-07-30"
	if got := BackfillTicketID("p1", "2026-07-30"); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPlantLockKey(t *testing.T) {
	want := "lock:plant:p1"
	if got := PlantLockKey("p1"); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
