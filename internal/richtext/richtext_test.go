package richtext

import "testing"

func TestIsEmpty(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		empty bool
	}{
		{name: "blank", body: "", empty: true},
		{name: "editor newline only", body: `{"ops":[{"insert":"\n"}]}`, empty: true},
		{name: "whitespace delta", body: `{"ops":[{"insert":"   \n\n"}]}`, empty: true},
		{name: "image embed only", body: `{"ops":[{"insert":{"image":"x"}},{"insert":"\n"}]}`, empty: true},
		{name: "tags only", body: "<p><br></p>", empty: true},
		{name: "text delta", body: `{"ops":[{"insert":"hi\n"}]}`, empty: false},
		{name: "plain text", body: "hello", empty: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsEmpty(tc.body); got != tc.empty {
				t.Fatalf("IsEmpty(%q) = %v, want %v", tc.body, got, tc.empty)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	body := `{"ops":[{"insert":"Ship "},{"insert":"it","attributes":{"bold":true}},{"insert":"\n"}]}`
	if got := PlainText(body); got != "Ship it\n" {
		t.Fatalf("unexpected text %q", got)
	}
	if got := PlainText("<b>a &amp; b</b>"); got != "a & b" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestToHTML(t *testing.T) {
	body := `{"ops":[{"insert":"Ship "},{"insert":"it","attributes":{"bold":true,"link":"https://x.test"}},{"insert":"\nnext <line>\n"}]}`
	want := `<p>Ship <a href="https://x.test"><strong>it</strong></a></p><p>next &lt;line&gt;</p>`
	if got := ToHTML(body); got != want {
		t.Fatalf("ToHTML() = %q, want %q", got, want)
	}
	if got := ToHTML("plain & simple"); got != "<p>plain &amp; simple</p>" {
		t.Fatalf("unexpected fallback %q", got)
	}
}

func TestFromText(t *testing.T) {
	body := FromText("hello")
	if PlainText(body) != "hello\n" {
		t.Fatalf("unexpected round trip %q", PlainText(body))
	}
	if IsEmpty(body) {
		t.Fatal("FromText body must not be empty")
	}
}
