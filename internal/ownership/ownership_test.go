package ownership

import (
	"errors"
	"testing"

	"github.com/abelbrown/jtfnews/internal/model"
)

func testRegistry() *Registry {
	return NewRegistry([]model.Source{
		{ID: "reuters", OwnerGroup: "Thomson", InstitutionalHolders: []model.Holder{{Name: "Woodbridge", Percent: 69}}},
		{ID: "ap", OwnerGroup: "Cooperative"},
		{ID: "thomson-wire", OwnerGroup: "thomson "},
		{ID: "cnn", OwnerGroup: "Warner Bros. Discovery", InstitutionalHolders: []model.Holder{
			{Name: "Vanguard", Percent: 8.5}, {Name: "BlackRock", Percent: 6.9}, {Name: "Harris", Percent: 4.0},
		}},
		{ID: "fox", OwnerGroup: "Fox Corporation", InstitutionalHolders: []model.Holder{
			{Name: "Murdoch Trust", Percent: 40}, {Name: "Vanguard", Percent: 2.0}, {Name: "State Street", Percent: 1.0},
			{Name: "Tiny", Percent: 0.5},
		}},
		{ID: "nyt", OwnerGroup: "New York Times Co.", InstitutionalHolders: []model.Holder{
			{Name: "Ochs-Sulzberger Trust", Percent: 30}, {Name: "Fidelity", Percent: 4.0}, {Name: "Capital", Percent: 3.0},
			{Name: "Small Fund", Percent: 1.0},
		}},
		{ID: "wapo", OwnerGroup: "Nash Holdings", InstitutionalHolders: []model.Holder{
			{Name: "Bezos", Percent: 100}, {Name: "Small Fund", Percent: 0.1},
		}},
		{ID: "orphan"},
	}, 5.0)
}

func TestIndependent(t *testing.T) {
	r := testRegistry()
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"distinct owners, no holders", "reuters", "ap", true},
		{"same owner group, case and space insensitive", "reuters", "thomson-wire", false},
		{"shared holder above threshold in one source", "cnn", "fox", false},
		{"small shared holder outside both top 3", "nyt", "wapo", true},
		{"same source", "ap", "ap", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Independent(tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Independent(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			rev, _ := r.Independent(tt.b, tt.a)
			if rev != got {
				t.Errorf("not symmetric")
			}
		})
	}
}

func TestIndependentTopHolderOverlap(t *testing.T) {
	// Vanguard is below threshold in both, but in the top 3 of each.
	r := NewRegistry([]model.Source{
		{ID: "a", OwnerGroup: "A", InstitutionalHolders: []model.Holder{{Name: "Vanguard", Percent: 3}}},
		{ID: "b", OwnerGroup: "B", InstitutionalHolders: []model.Holder{{Name: "vanguard", Percent: 2}}},
	}, 5.0)
	got, err := r.Independent("a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Error("expected related through top-3 holder overlap")
	}
}

func TestIndependentHolderThresholdIsExclusive(t *testing.T) {
	// W sits outside both top 3, so only the percent threshold decides.
	sources := func(pct float64) []model.Source {
		return []model.Source{
			{ID: "a", OwnerGroup: "A", InstitutionalHolders: []model.Holder{
				{Name: "X", Percent: 30}, {Name: "Y", Percent: 20}, {Name: "Z", Percent: 10}, {Name: "W", Percent: pct},
			}},
			{ID: "b", OwnerGroup: "B", InstitutionalHolders: []model.Holder{
				{Name: "P", Percent: 30}, {Name: "Q", Percent: 20}, {Name: "R", Percent: 10}, {Name: "W", Percent: 1},
			}},
		}
	}
	tests := []struct {
		pct  float64
		want bool
	}{
		{4.9, true},
		{5.0, true},
		{5.1, false},
	}
	for _, tt := range tests {
		got, err := NewRegistry(sources(tt.pct), 5.0).Independent("a", "b")
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("shared holder at %.1f%%: Independent = %v, want %v", tt.pct, got, tt.want)
		}
	}
}

func TestIndependentAmbiguous(t *testing.T) {
	r := testRegistry()
	for _, pair := range [][2]string{{"reuters", "unknown"}, {"orphan", "ap"}} {
		got, err := r.Independent(pair[0], pair[1])
		if !errors.Is(err, ErrOwnershipAmbiguous) {
			t.Errorf("%v: expected ErrOwnershipAmbiguous, got %v", pair, err)
		}
		if got {
			t.Errorf("%v: ambiguous ownership must not be independent", pair)
		}
	}
}

func TestSourcesSorted(t *testing.T) {
	r := testRegistry()
	srcs := r.Sources()
	if len(srcs) != r.Len() {
		t.Fatalf("len mismatch")
	}
	for i := 1; i < len(srcs); i++ {
		if srcs[i-1].ID > srcs[i].ID {
			t.Fatalf("not sorted at %d", i)
		}
	}
}
