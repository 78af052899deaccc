package vectorstore

import "testing"

func TestFuseRanked_RRFCombinesBothLists(t *testing.T) {
	dense := []SearchResult{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.8}}
	sparse := []SearchResult{{ID: "b", Score: 5}, {ID: "c", Score: 4}}

	fused := fuseRanked([][]SearchResult{dense, sparse}, []float64{1, 1}, HybridOptions{Limit: 10, Rerank: RerankRRF, RerankK: 60})

	if len(fused) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(fused))
	}
	// "b" appears in both lists, so it should outrank "a" and "c" which
	// each appear in only one list.
	if fused[0].ID != "b" {
		t.Errorf("expected id present in both lists to rank first, got %q", fused[0].ID)
	}
}

func TestFuseRanked_TruncatesToLimit(t *testing.T) {
	dense := []SearchResult{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	fused := fuseRanked([][]SearchResult{dense}, []float64{1}, HybridOptions{Limit: 2, Rerank: RerankRRF, RerankK: 60})
	if len(fused) != 2 {
		t.Fatalf("expected truncation to limit=2, got %d", len(fused))
	}
}

func TestFuseRanked_TiebreakByID(t *testing.T) {
	// "z" and "a" each rank first in their own list, so both score 1/61.
	dense := []SearchResult{{ID: "z"}}
	sparse := []SearchResult{{ID: "a"}}
	fused := fuseRanked([][]SearchResult{dense, sparse}, []float64{1, 1}, HybridOptions{Limit: 10, Rerank: RerankRRF, RerankK: 60})
	if fused[0].ID != "a" {
		t.Errorf("expected tie to break on ascending id, got %+v", fused)
	}
}

func TestFuseRanked_WeightedUsesRawScore(t *testing.T) {
	dense := []SearchResult{{ID: "a", Score: 0.1}}
	sparse := []SearchResult{{ID: "a", Score: 10}}
	fused := fuseRanked([][]SearchResult{dense, sparse}, []float64{1, 0.01}, HybridOptions{Limit: 10, Rerank: RerankWeighted})
	if len(fused) != 1 {
		t.Fatalf("expected one fused result, got %d", len(fused))
	}
	want := float32(1*0.1 + 0.01*10)
	if fused[0].Score != want {
		t.Errorf("expected weighted score %v, got %v", want, fused[0].Score)
	}
}
