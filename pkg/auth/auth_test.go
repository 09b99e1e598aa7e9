package auth

import "testing"

func TestCheckMatchesConfiguredSecret(t *testing.T) {
	v := New("s3cr3t")
	if !v.Check("s3cr3t") {
		t.Fatal("expected matching token to pass")
	}
}

func TestCheckRejectsWrongToken(t *testing.T) {
	v := New("s3cr3t")
	if v.Check("wrong") {
		t.Fatal("expected mismatched token to fail")
	}
}

func TestCheckRejectsDifferentLength(t *testing.T) {
	v := New("s3cr3t")
	if v.Check("s3cr3t-but-longer") {
		t.Fatal("expected length-mismatched token to fail")
	}
}

func TestCheckFailsClosedWhenSecretUnset(t *testing.T) {
	v := New("")
	if v.Check("") {
		t.Fatal("expected empty secret to fail closed even against an empty token")
	}
	if v.Check("anything") {
		t.Fatal("expected empty secret to fail closed")
	}
}
