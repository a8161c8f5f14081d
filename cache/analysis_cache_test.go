package cache

import (
	"testing"

	"BratGen/model"
)

func TestAnalysisCacheEvictsOldest(t *testing.T) {
	c, err := NewAnalysisCache(2)
	if err != nil {
		t.Fatal(err)
	}
	c.Add(&model.AudioAnalysis{UploadID: "a"})
	c.Add(&model.AudioAnalysis{UploadID: "b"})
	c.Add(&model.AudioAnalysis{UploadID: "c"})

	if _, ok := c.Get("a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if got, ok := c.Get("c"); !ok || got.UploadID != "c" {
		t.Fatalf("Get(c) = %+v, %v", got, ok)
	}
	c.Remove("c")
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestDisabledAnalysisCache(t *testing.T) {
	c, err := NewAnalysisCache(0)
	if err != nil {
		t.Fatal(err)
	}
	c.Add(&model.AudioAnalysis{UploadID: "a"})
	if _, ok := c.Get("a"); ok {
		t.Fatal("disabled cache should never hit")
	}
}
