package vfs

import (
	"errors"
	"testing"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		isRoot  bool
		wantErr bool
	}{
		{raw: "", want: "", isRoot: true},
		{raw: "/", want: "", isRoot: true},
		{raw: "a", want: "a"},
		{raw: "a/b/c", want: "a/b/c"},
		{raw: "/a/b/", want: "a/b"},
		{raw: "a//b", wantErr: true},
		{raw: ".", wantErr: true},
		{raw: "..", wantErr: true},
		{raw: "a/../b", wantErr: true},
		{raw: "a/./b", wantErr: true},
	}

	for _, tt := range tests {
		p, err := ParsePath(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePath(%q): expected error, got %q", tt.raw, p)
			} else if !errors.Is(err, ErrInvalidPath) {
				t.Errorf("ParsePath(%q): expected ErrInvalidPath, got %v", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePath(%q): unexpected error %v", tt.raw, err)
			continue
		}
		if p.String() != tt.want {
			t.Errorf("ParsePath(%q) = %q, want %q", tt.raw, p, tt.want)
		}
		if p.IsRoot() != tt.isRoot {
			t.Errorf("ParsePath(%q).IsRoot() = %v, want %v", tt.raw, p.IsRoot(), tt.isRoot)
		}
	}
}

func TestPathNavigation(t *testing.T) {
	p, err := ParsePath("a/b/c.txt")
	if err != nil {
		t.Fatal(err)
	}

	if got := p.Leaf(); got != "c.txt" {
		t.Errorf("Leaf() = %q, want %q", got, "c.txt")
	}
	if got := p.Parent().String(); got != "a/b" {
		t.Errorf("Parent() = %q, want %q", got, "a/b")
	}
	if got := p.Parent().Parent().Parent(); !got.IsRoot() {
		t.Errorf("triple Parent() = %q, want root", got)
	}
	if got := p.Parent().Child("d").String(); got != "a/b/d" {
		t.Errorf("Child() = %q, want %q", got, "a/b/d")
	}

	// Child must not alias the receiver's backing array.
	base := Path{}.Child("x")
	c1 := base.Child("one")
	c2 := base.Child("two")
	if c1.String() != "x/one" || c2.String() != "x/two" {
		t.Errorf("sibling children alias each other: %q, %q", c1, c2)
	}
}

func TestBumpName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"main.py", "main.py (1)"},
		{"main.py (1)", "main.py (2)"},
		{"main.py (9)", "main.py (10)"},
		{"notes", "notes (1)"},
		{"v(2)", "v(3)"},
		{"(1)", "(2)"},
	}
	for _, tt := range tests {
		if got := bumpName(tt.in); got != tt.want {
			t.Errorf("bumpName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBlacklist(t *testing.T) {
	b := NewBlacklist("secrets", "")

	for _, name := range DefaultBlacklist {
		if !b.Contains(name) {
			t.Errorf("expected default entry %q to be blacklisted", name)
		}
	}
	if !b.Contains("secrets") {
		t.Error("expected extra entry to be blacklisted")
	}
	if b.Contains("") {
		t.Error("empty extra entry must be ignored")
	}
	if b.Contains("src") {
		t.Error("src must not be blacklisted")
	}
}
