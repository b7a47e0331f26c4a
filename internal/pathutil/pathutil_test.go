package pathutil

import "testing"

func TestResolve(t *testing.T) {
	const mount = "/mnt/burst"

	cases := []struct {
		name          string
		input, cwd    string
		wantInside    bool
		wantCanonical string
	}{
		{"empty is root", "", "/", true, "/"},
		{"exact mount", "/mnt/burst", "/", true, "/"},
		{"exact mount trailing slash", "/mnt/burst/", "/", true, "/"},
		{"simple child", "/mnt/burst/foo", "/", true, "/foo"},
		{"nested child", "/mnt/burst/a/b/c", "/", true, "/a/b/c"},
		{"dot segments collapse", "/mnt/burst/a/./b/../c", "/", true, "/a/c"},
		{"relative joins cwd", "foo", "/mnt/burst/dir", true, "/dir/foo"},
		{"outside mount", "/other/path", "/", false, "/other/path"},
		{"dotdot above mount leaves it", "/mnt/burst/../../etc", "/", false, "/etc"},
		{"trailing slash preserved", "/mnt/burst/dir/", "/", true, "/dir/"},
		{"no trailing slash", "/mnt/burst/dir", "/", true, "/dir"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inside, canonical := Resolve(tc.input, tc.cwd, mount)
			if inside != tc.wantInside {
				t.Errorf("inside = %v, want %v", inside, tc.wantInside)
			}
			if canonical != tc.wantCanonical {
				t.Errorf("canonical = %q, want %q", canonical, tc.wantCanonical)
			}
		})
	}
}

func TestInMount(t *testing.T) {
	if !InMount("/mnt/burst/x", "/", "/mnt/burst") {
		t.Error("expected inside mount")
	}
	if InMount("/elsewhere", "/", "/mnt/burst") {
		t.Error("expected outside mount")
	}
}
