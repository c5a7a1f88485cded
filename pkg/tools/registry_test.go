package tools

import "testing"

func TestRegistry_RegisterGetRemove(t *testing.T) {
	r := NewRegistry()
	r.Register(stubTool{name: "a"})
	r.Register(stubTool{name: "b"})

	if _, ok := r.Get("a"); !ok {
		t.Error("tool a should be registered")
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("missing tool should not be found")
	}

	r.Remove("a")
	if _, ok := r.Get("a"); ok {
		t.Error("removed tool should be gone")
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry(stubTool{name: "a"})
	defer func() {
		if recover() == nil {
			t.Error("duplicate Register should panic")
		}
	}()
	r.Register(stubTool{name: "a"})
}

func TestRegistry_RegisterOrReplace(t *testing.T) {
	r := NewRegistry(stubTool{name: "a", schema: "old"})
	r.RegisterOrReplace(stubTool{name: "a", schema: "new"})
	got, _ := r.Get("a")
	if string(got.Definition().Parameters) != "new" {
		t.Error("RegisterOrReplace should overwrite")
	}
}

func TestRegistry_DefinitionsSorted(t *testing.T) {
	r := NewRegistry(stubTool{name: "zeta"}, stubTool{name: "alpha"}, stubTool{name: "mid"})
	defs := r.Definitions()
	if len(defs) != 3 {
		t.Fatalf("len = %d, want 3", len(defs))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if defs[i].Name != want {
			t.Errorf("defs[%d] = %q, want %q", i, defs[i].Name, want)
		}
	}
}
