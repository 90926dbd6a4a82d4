package domain

import (
	"testing"
)

// FuzzParseJobID checks that parsing never panics and valid IDs round-trip.
func FuzzParseJobID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("'; DROP TABLE workflow_jobs;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseJobID(input)
		if err != nil {
			return
		}
		if id.IsNil() {
			t.Fatal("parser accepted nil job id")
		}
		again, err := ParseJobID(id.String())
		if err != nil || again != id {
			t.Fatalf("round trip failed for %q", input)
		}
	})
}

// FuzzParseUserID checks that accepted subjects are never empty or oversized.
func FuzzParseUserID(f *testing.F) {
	f.Add("github|1")
	f.Add(" ")
	f.Add("​")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseUserID(input)
		if err != nil {
			return
		}
		if id == "" || len(id) > maxUserIDLength {
			t.Fatalf("accepted invalid subject %q", id)
		}
	})
}
