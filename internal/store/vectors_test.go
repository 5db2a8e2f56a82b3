package store

import (
	"math"
	"testing"

	"github.com/lazypower/recall/internal/graph"
)

func TestEncodeDecodeEmbedding(t *testing.T) {
	original := []float64{1.0, -0.5, 0.333, math.Pi, 0.0}
	blob := encodeEmbedding(original)
	decoded := decodeEmbedding(blob)

	if len(decoded) != len(original) {
		t.Fatalf("length mismatch: %d vs %d", len(decoded), len(original))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("index %d: got %f, want %f", i, decoded[i], original[i])
		}
	}
}

func TestSaveAndGetVector(t *testing.T) {
	db := testDB(t)
	saveNode(t, db, "style", graph.KindConcept)

	embedding := []float64{0.1, 0.2, 0.3, 0.4, 0.5}
	if err := db.SaveVector("style", embedding, "test-model"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}

	v, err := db.GetVector("style")
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if v == nil {
		t.Fatal("expected vector, got nil")
	}
	if v.Model != "test-model" {
		t.Errorf("model = %q, want %q", v.Model, "test-model")
	}
	if v.Kind != graph.KindConcept {
		t.Errorf("kind = %q, want concept", v.Kind)
	}
	if v.Dimensions != 5 {
		t.Errorf("dimensions = %d, want 5", v.Dimensions)
	}
	for i := range embedding {
		if v.Embedding[i] != embedding[i] {
			t.Errorf("embedding[%d] = %f, want %f", i, v.Embedding[i], embedding[i])
		}
	}
}

func TestSaveVectorReplace(t *testing.T) {
	db := testDB(t)
	saveNode(t, db, "style", graph.KindConcept)

	db.SaveVector("style", []float64{0.1, 0.2}, "model-a")
	db.SaveVector("style", []float64{0.3, 0.4, 0.5}, "model-b")

	v, _ := db.GetVector("style")
	if v.Model != "model-b" {
		t.Errorf("model = %q, want %q", v.Model, "model-b")
	}
	if v.Dimensions != 3 {
		t.Errorf("dimensions = %d, want 3", v.Dimensions)
	}
}

func TestSaveVectorRequiresNode(t *testing.T) {
	db := testDB(t)
	if err := db.SaveVector("ghost", []float64{1}, "test"); err == nil {
		t.Error("expected foreign key error for vector without node")
	}
}

func TestGetVectorNotFound(t *testing.T) {
	db := testDB(t)

	v, err := db.GetVector("missing")
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if v != nil {
		t.Error("expected nil for nonexistent vector")
	}
}

func TestVectorsForModel(t *testing.T) {
	db := testDB(t)
	saveNode(t, db, "a", graph.KindFact)
	saveNode(t, db, "b", graph.KindFact)
	saveNode(t, db, "c", graph.KindFact)

	db.SaveVector("a", []float64{0.1, 0.2}, "test")
	db.SaveVector("b", []float64{0.3, 0.4}, "test")
	db.SaveVector("c", []float64{0.3, 0.4}, "other")

	all, err := db.VectorsForModel("test", 2)
	if err != nil {
		t.Fatalf("VectorsForModel: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 vectors, got %d", len(all))
	}

	none, _ := db.VectorsForModel("test", 3)
	if len(none) != 0 {
		t.Errorf("expected no vectors at 3 dims, got %d", len(none))
	}
}

func TestDeleteVector(t *testing.T) {
	db := testDB(t)
	saveNode(t, db, "a", graph.KindFact)
	db.SaveVector("a", []float64{0.1, 0.2}, "test")

	if err := db.DeleteVector("a"); err != nil {
		t.Fatalf("DeleteVector: %v", err)
	}

	v, _ := db.GetVector("a")
	if v != nil {
		t.Error("expected nil after delete")
	}
}
