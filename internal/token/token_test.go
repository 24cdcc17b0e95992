package token

import "testing"

func TestCheckTokenAcceptsSeeded(t *testing.T) {
	m := New([]byte("secret-a"), []byte("secret-b"))
	if !m.CheckToken([]byte("secret-a")) {
		t.Fatalf("expected seeded token to be accepted")
	}
	if !m.CheckToken([]byte("secret-b")) {
		t.Fatalf("expected second seeded token to be accepted")
	}
	if m.CheckToken([]byte("nope")) {
		t.Fatalf("expected unknown token to be rejected")
	}
}

func TestAddAndRemove(t *testing.T) {
	m := New()
	if m.CheckToken([]byte("t")) {
		t.Fatalf("expected empty manager to reject everything")
	}
	m.Add([]byte("t"))
	if !m.CheckToken([]byte("t")) {
		t.Fatalf("expected added token to be accepted")
	}
	m.Remove([]byte("t"))
	if m.CheckToken([]byte("t")) {
		t.Fatalf("expected removed token to be rejected")
	}
}

func TestCheckTokenEmptyCandidate(t *testing.T) {
	m := New([]byte("secret"))
	if m.CheckToken(nil) {
		t.Fatalf("expected empty candidate to never match")
	}
}
