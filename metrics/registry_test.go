package metrics

import "testing"

func TestRegistryLazyGauge(t *testing.T) {
	r := NewRegistry()
	r.Inc("loop.deliveries")
	r.Add("loop.deliveries", 4)
	mfs, err := r.Prometheus().Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) != 1 {
		t.Fatalf("expected 1 registered metric family, got %d", len(mfs))
	}
	v := mfs[0].Metric[0].GetGauge().GetValue()
	if v != 5 {
		t.Fatalf("expected gauge value 5, got %v", v)
	}
}

func TestNoopRecorderDiscards(t *testing.T) {
	var n Noop
	n.Inc("x")
	n.Add("x", 1)
	n.Set("x", 1)
}
