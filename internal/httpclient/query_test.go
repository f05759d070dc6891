package httpclient

import "testing"

func TestBuildExpandQuery(t *testing.T) {
	cases := []struct {
		name string
		in   []string
		want string
	}{
		{"empty", nil, ""},
		{"single", []string{"a"}, "expand[]=a"},
		{"multiple", []string{"a", "b"}, "expand[]=a&expand[]=b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BuildExpandQuery(tc.in); got != tc.want {
				t.Errorf("BuildExpandQuery(%v) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBuildQueryParams(t *testing.T) {
	p := DefaultPagination()

	if got, want := BuildQueryParams("", "", p), "?limit=10&offset=0"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got := BuildQueryParams("search=device_id:dvc_123", "", p)
	want := "?limit=10&offset=0&search=device_id:dvc_123"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got = BuildQueryParams("", BuildExpandQuery([]string{"a", "b"}), p)
	want = "?limit=10&offset=0&expand[]=a&expand[]=b"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildQueryParams_ClampsLimitToHardMax(t *testing.T) {
	got := BuildQueryParams("", "", Pagination{Limit: 1000, Offset: 20})
	want := "?limit=100&offset=20"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
