package diff

import (
	"testing"

	"paperpipe/internal/record"
)

func rec(id string) record.Record {
	return record.New("T", "https://arxiv.org/abs/"+id, "", nil, "", "")
}

func TestComputeNew(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		fresh    []string
		want     []string
	}{
		{"first run", nil, []string{"2501.00002", "2501.00001"}, []string{"2501.00002", "2501.00001"}},
		{"second run", []string{"2501.00001"}, []string{"2501.00002", "2501.00001"}, []string{"2501.00002"}},
		{"nothing new", []string{"2501.00001", "2501.00002"}, []string{"2501.00002", "2501.00001"}, nil},
		{"empty listing", []string{"2501.00001"}, nil, nil},
		{"duplicates pass", nil, []string{"2501.00003", "2501.00003"}, []string{"2501.00003", "2501.00003"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			existing := make([]record.Record, 0, len(tt.existing))
			for _, id := range tt.existing {
				existing = append(existing, rec(id))
			}
			fresh := make([]record.Record, 0, len(tt.fresh))
			for _, id := range tt.fresh {
				fresh = append(fresh, rec(id))
			}

			got := ComputeNew(KeySet(existing), fresh)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %v", len(got), tt.want)
			}
			for i, r := range got {
				if r.IdentityKey != tt.want[i] {
					t.Fatalf("position %d = %q, want %q", i, r.IdentityKey, tt.want[i])
				}
			}
		})
	}
}

func TestComputeNewMembership(t *testing.T) {
	existing := KeySet([]record.Record{rec("2501.00001")})
	fresh := []record.Record{rec("2501.00001"), rec("2501.00002"), rec("2501.00003")}
	got := ComputeNew(existing, fresh)

	in := KeySet(got)
	for _, r := range fresh {
		_, committed := existing[r.IdentityKey]
		_, returned := in[r.IdentityKey]
		if committed == returned {
			t.Fatalf("%s: committed=%v returned=%v", r.IdentityKey, committed, returned)
		}
	}
}
