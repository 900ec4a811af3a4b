package fusion

import (
	"math"
	"testing"

	"github.com/claudecontext/claude-context/internal/vector"
)

func results(ids ...string) []vector.Result {
	out := make([]vector.Result, len(ids))
	for i, id := range ids {
		out[i] = vector.Result{ID: id, Score: float32(len(ids) - i)}
	}
	return out
}

func TestFuseTwoLists(t *testing.T) {
	sparse := results("doc1", "doc2", "doc3")
	dense := results("doc2", "doc1", "doc4")

	fused := Fuse(sparse, dense)

	if len(fused) != 4 {
		t.Fatalf("expected 4 unique documents, got %d", len(fused))
	}

	// doc1: 1/61 + 1/62, doc2: 1/62 + 1/61 - equal scores, so doc1 wins the
	// lexicographic tie-break.
	if fused[0].ID != "doc1" || fused[1].ID != "doc2" {
		t.Errorf("expected doc1, doc2 at the top, got %s, %s", fused[0].ID, fused[1].ID)
	}

	wantTop := float32(1.0/61.0 + 1.0/62.0)
	if math.Abs(float64(fused[0].Score-wantTop)) > 1e-6 {
		t.Errorf("doc1 score = %v, want %v", fused[0].Score, wantTop)
	}

	// doc3 and doc4 each appeared once at rank 3.
	if fused[2].ID != "doc3" || fused[3].ID != "doc4" {
		t.Errorf("tail = %s, %s, want doc3, doc4", fused[2].ID, fused[3].ID)
	}
}

func TestFuseSingleListIdempotent(t *testing.T) {
	list := results("a", "b", "c", "d")

	fused := Fuse(list)

	if len(fused) != len(list) {
		t.Fatalf("length changed: %d vs %d", len(fused), len(list))
	}
	for i := range list {
		if fused[i].ID != list[i].ID {
			t.Errorf("position %d: %s, want %s", i, fused[i].ID, list[i].ID)
		}
	}
}

func TestFuseEmpty(t *testing.T) {
	if got := Fuse(nil, nil); len(got) != 0 {
		t.Errorf("fusing empty lists should be empty, got %d", len(got))
	}
}

func TestFuseKeepsPayload(t *testing.T) {
	list := []vector.Result{{ID: "a", Score: 0.9, Payload: vector.Payload{SourcePath: "x.go"}}}
	fused := Fuse(list)
	if fused[0].Payload.SourcePath != "x.go" {
		t.Error("payload lost during fusion")
	}
}

func TestMergeRankedDedup(t *testing.T) {
	a := []vector.Result{{ID: "x", Score: 0.5}, {ID: "y", Score: 0.4}}
	b := []vector.Result{{ID: "x", Score: 0.7}, {ID: "z", Score: 0.3}}

	merged := MergeRanked(a, b)

	if len(merged) != 3 {
		t.Fatalf("expected 3 results, got %d", len(merged))
	}
	if merged[0].ID != "x" || merged[0].Score != 0.7 {
		t.Errorf("duplicate should keep the higher score, got %s %v", merged[0].ID, merged[0].Score)
	}
}

func TestMergeRankedTieBreak(t *testing.T) {
	a := []vector.Result{{ID: "b", Score: 0.5}}
	b := []vector.Result{{ID: "a", Score: 0.5}}

	merged := MergeRanked(a, b)
	if merged[0].ID != "a" {
		t.Errorf("ties must break lexicographically, got %s first", merged[0].ID)
	}
}
