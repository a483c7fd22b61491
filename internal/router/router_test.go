package router

import "testing"

func TestRouteResolvesKnownService(t *testing.T) {
	r := New([]ServiceRoute{
		{Name: "meds", BaseURL: "http://meds:9001"},
		{Name: "ai_brain", BaseURL: "http://ai_brain:9002", Protected: false},
	})

	tests := []struct {
		name     string
		path     string
		wantName string
		wantTail string
		wantOK   bool
	}{
		{"no trailing slash", "/meds", "meds", "", true},
		{"trailing slash", "/meds/", "meds", "", true},
		{"with rest", "/meds/123/refill", "meds", "/123/refill", true},
		{"unknown service", "/nonexistent/x", "", "", false},
		{"root path", "/", "", "", false},
		{"case sensitive mismatch", "/Meds", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, tail, ok := r.Route(tt.path)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if route.Name != tt.wantName {
				t.Errorf("route name = %q, want %q", route.Name, tt.wantName)
			}
			if tail != tt.wantTail {
				t.Errorf("pathTail = %q, want %q", tail, tt.wantTail)
			}
		})
	}
}

func TestRouteEmptyTableRejectsEverything(t *testing.T) {
	r := New(nil)
	if _, _, ok := r.Route("/meds"); ok {
		t.Fatal("expected no match against an empty route table")
	}
}
