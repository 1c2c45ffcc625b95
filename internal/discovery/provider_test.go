package discovery

import (
	"context"
	"reflect"
	"testing"

	"affiliatescout/internal/model"
)

func TestSyntheticIsDeterministic(t *testing.T) {
	s := &Synthetic{}
	first, err := s.Discover(context.Background(), "yoga", model.PlatformYouTube)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	second, err := s.Discover(context.Background(), "yoga", model.PlatformYouTube)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("same query produced different candidates")
	}
	other, _ := s.Discover(context.Background(), "yoga", model.PlatformTikTok)
	if reflect.DeepEqual(first, other) {
		t.Fatal("different platforms produced identical candidates")
	}
}

func TestConsolidateDedupesAndRanks(t *testing.T) {
	in := []model.Affiliate{
		{Name: "a", URL: "https://x/1", Platform: model.PlatformYouTube, Followers: 10},
		{Name: "b", URL: "https://x/2", Platform: model.PlatformWeb, Followers: 500},
		{Name: "a-dup", URL: "https://x/1", Platform: model.PlatformYouTube, Followers: 10},
	}
	out, breakdown := Consolidate(in)
	if len(out) != 2 {
		t.Fatalf("len = %d, want duplicates collapsed to 2", len(out))
	}
	if out[0].Followers < out[1].Followers {
		t.Fatal("results not sorted by followers descending")
	}
	if breakdown["youtube"] != 1 || breakdown["web"] != 1 {
		t.Fatalf("breakdown = %v", breakdown)
	}
}
