package verify

import "testing"

func TestNormalizeErrorKey_TypeScript(t *testing.T) {
	out := "src/auth/login.ts(12,5): error TS2322: Type 'string' is not assignable to type 'number'."
	got := NormalizeErrorKey("typecheck", out)
	if got != "typecheck:TS2322:src/auth/login.ts" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeErrorKey_TestFailure(t *testing.T) {
	out := "FAIL src/auth/login.test.ts\n  ✗ should reject invalid credentials properly always"
	got := NormalizeErrorKey("test", out)
	if got == "" || got[:5] != "test:" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeErrorKey_Lint(t *testing.T) {
	out := "src/app/main.ts\n  12:3  error  no-unused-vars  eslint"
	got := NormalizeErrorKey("lint", out)
	if got != "lint:no-unused-vars:src/app/main.ts" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeErrorKey_FallbackWithFile(t *testing.T) {
	out := "something failed while touching src/app/main.ts"
	got := NormalizeErrorKey("build", out)
	if got != "build:src/app/main.ts" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeErrorKey_FallbackUnknown(t *testing.T) {
	got := NormalizeErrorKey("build", "no useful detail here")
	if got != "build:unknown" {
		t.Errorf("got %q", got)
	}
}
