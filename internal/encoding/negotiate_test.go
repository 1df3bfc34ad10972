package encoding

import "testing"

func TestNegotiatePreference(t *testing.T) {
	all := Enabled{Gzip: true, Brotli: true}

	testCases := []struct {
		name    string
		header  string
		enabled Enabled
		want    Coding
	}{
		{"brotli preferred", "gzip, deflate, br", all, Brotli},
		{"gzip only client", "gzip", all, Gzip},
		{"q zero excludes brotli", "br;q=0, gzip", all, Gzip},
		{"wildcard", "*", all, Brotli},
		{"wildcard with explicit exclusion", "*, br;q=0", all, Gzip},
		{"empty header", "", all, Identity},
		{"identity only", "identity", all, Identity},
		{"invalid q", "br;q=abc, gzip;q=0.5", all, Gzip},
		{"uppercase token", "GZIP", all, Gzip},
		{"x-gzip alias", "x-gzip", all, Gzip},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Negotiate(tc.header, tc.enabled)
			if got.Coding != tc.want {
				t.Fatalf("header %q: 期望 %s，得到 %s", tc.header, tc.want, got.Coding)
			}
		})
	}
}

func TestNegotiateNeverSelectsDisabledCoding(t *testing.T) {
	testCases := []struct {
		name    string
		enabled Enabled
		header  string
		allowed map[Coding]bool
	}{
		{"none enabled", Enabled{}, "br, gzip, *", map[Coding]bool{Identity: true}},
		{"gzip only", Enabled{Gzip: true}, "br", map[Coding]bool{Identity: true}},
		{"gzip only wildcard", Enabled{Gzip: true}, "br, *", map[Coding]bool{Identity: true, Gzip: true}},
		{"brotli only", Enabled{Brotli: true}, "gzip", map[Coding]bool{Identity: true}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Negotiate(tc.header, tc.enabled)
			if !tc.allowed[got.Coding] {
				t.Fatalf("选中了未启用的编码 %s", got.Coding)
			}
		})
	}
}

func TestNegotiatorCustomPreference(t *testing.T) {
	n := NewNegotiator(Enabled{Gzip: true, Brotli: true}, []Coding{"gzip", "br", "zstd", "gzip"})
	if got := n.Negotiate("br, gzip"); got.Coding != Gzip {
		t.Fatalf("自定义优先级应选择 gzip，得到 %s", got.Coding)
	}
	if got := n.Negotiate("br"); got.Coding != Brotli {
		t.Fatalf("客户端仅接受 br 时应选择 br，得到 %s", got.Coding)
	}
}

func TestDecisionHelpers(t *testing.T) {
	if h := (Decision{Coding: Identity}).Header(); h != "" {
		t.Fatalf("identity 不应输出 Content-Encoding，得到 %q", h)
	}
	if s := (Decision{Coding: Brotli}).SiblingSuffix(); s != ".br" {
		t.Fatalf("brotli 后缀应为 .br，得到 %q", s)
	}
	if s := (Decision{Coding: Gzip}).SiblingSuffix(); s != ".gz" {
		t.Fatalf("gzip 后缀应为 .gz，得到 %q", s)
	}
}

func TestNegotiatorActiveSkipsDisabled(t *testing.T) {
	active := NewNegotiator(Enabled{Gzip: true}, nil).Active()
	if len(active) != 1 || active[0] != Gzip {
		t.Fatalf("仅启用 gzip 时 Active 应为 [gzip]，得到 %v", active)
	}
	if got := NewNegotiator(Enabled{}, nil).Active(); len(got) != 0 {
		t.Fatalf("未启用任何编码时 Active 应为空，得到 %v", got)
	}
}
