package endpoint

import "testing"

func TestCompileAndMatchLiteral(t *testing.T) {
	p, err := Compile("/users/list", false, false)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, ok := p.Match("/users/list"); !ok {
		t.Fatal("expected match")
	}
	if _, ok := p.Match("/users/listx"); ok {
		t.Fatal("expected no match")
	}
}

func TestCompileAndMatchParam(t *testing.T) {
	p, err := Compile("/users/{id}", false, false)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	caps, ok := p.Match("/users/42")
	if !ok {
		t.Fatal("expected match")
	}
	if caps["id"] != "42" {
		t.Fatalf("expected id=42, got %v", caps)
	}
	if _, ok := p.Match("/users/"); ok {
		t.Fatal("empty param segment must not match")
	}
}

func TestFamilyPattern(t *testing.T) {
	p, err := Compile("/static", true, false)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, ok := p.Match("/static/css/app.css"); !ok {
		t.Fatal("expected family match")
	}
	if _, ok := p.Match("/other"); ok {
		t.Fatal("expected no match")
	}
}

func TestRegexSegment(t *testing.T) {
	p, err := Compile("/items/{id:[0-9]+}", false, true)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	caps, ok := p.Match("/items/123")
	if !ok {
		t.Fatal("expected match")
	}
	if caps["id"] != "123" {
		t.Fatalf("expected id=123, got %v", caps)
	}
	if _, ok := p.Match("/items/abc"); ok {
		t.Fatal("expected no match for non-numeric id")
	}
}

func TestMoreSpecificThan(t *testing.T) {
	a, _ := Compile("/a/b/c", false, false)
	b, _ := Compile("/a/b", false, false)
	if !a.MoreSpecificThan(b) {
		t.Fatal("expected /a/b/c to be more specific than /a/b")
	}

	c, _ := Compile("/a/{x}", false, false)
	d, _ := Compile("/a/bb", false, false)
	if !c.MoreSpecificThan(d) {
		t.Fatal("expected /a/{x} (longer total size, 6 vs 5) to be more specific than /a/bb")
	}
}
