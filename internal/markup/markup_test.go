package markup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestExtractTopics(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"single", "<topic>go generics</topic>", []string{"go generics"}},
		{"multiple", "<topic>a</topic> text between <topic>b</topic>", []string{"a", "b"}},
		{"wrong case tolerated", "<TOPIC>shouting</TOPIC>", []string{"shouting"}},
		{"surrounding whitespace", "<topic>\n  padded  \n</topic>", []string{"padded"}},
		{"empty payload dropped", "<topic>   </topic><topic>kept</topic>", []string{"kept"}},
		{"missing close tag", "<topic>dangling", nil},
		{"no tags", "just prose", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.want, ExtractTopics(tt.in), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("ExtractTopics mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractSearchType(t *testing.T) {
	t.Parallel()
	got, ok := ExtractSearchType("<think>x</think><search_type>  NEWS </search_type>")
	if !ok || got != "news" {
		t.Fatalf("got (%q, %v), want (news, true)", got, ok)
	}
	if _, ok := ExtractSearchType("no type here"); ok {
		t.Fatal("expected no match")
	}
}

func TestExtractSearchRequests(t *testing.T) {
	t.Parallel()
	in := `<search_request><query>golang errgroup</query></search_request>
<search_request><query>golang ErrGroup</query></search_request>
<search_request><query>ok</query></search_request>
<search_request><query>stock price</query><domain>finance.yahoo.com</domain></search_request>`

	want := []SearchRequest{
		{Query: "golang errgroup"},
		{Query: "stock price", Domain: "finance.yahoo.com"},
	}
	if diff := cmp.Diff(want, ExtractSearchRequests(in)); diff != "" {
		t.Errorf("short queries and case-insensitive duplicates must be dropped (-want +got):\n%s", diff)
	}
}

func TestExtractAdditionalSearchExactness(t *testing.T) {
	t.Parallel()
	directive := "<additional_search><query>latest go release notes</query></additional_search>"

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"exact directive", directive, "latest go release notes"},
		{"surrounding whitespace ok", "\n  " + directive + "  \n", "latest go release notes"},
		{"leading prose disqualifies", "Here is my answer. " + directive, ""},
		{"trailing prose disqualifies", directive + " Hope that helps!", ""},
		{"short query disqualifies", "<additional_search><query>go</query></additional_search>", ""},
		{"plain answer", "The answer is 42.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ExtractAdditionalSearch(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseVerdict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		in         string
		wantPass   bool
		wantReason string
	}{
		{"pass", "I judge this relevant. <pass>", true, ""},
		{"pass wrong case", "<PASS>", true, ""},
		{"fail with reason", "<fail>paywalled stub</fail>", false, "paywalled stub"},
		{"fail empty reason", "<fail></fail>", false, "Reason not specified."},
		{"bare fail marker", "<fail>", false, "Reason not specified."},
		{"neither marker fails closed", "looks fine to me", false, "Ambiguous (no <pass> or <fail> tag found)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := ParseVerdict(tt.in)
			if v.Pass != tt.wantPass {
				t.Fatalf("Pass = %v, want %v", v.Pass, tt.wantPass)
			}
			if v.Reason != tt.wantReason {
				t.Fatalf("Reason = %q, want %q", v.Reason, tt.wantReason)
			}
		})
	}
}

func TestStripThinking(t *testing.T) {
	t.Parallel()
	in := "<think>private reasoning</think>The answer.\n<THINK>more</THINK>"
	if got := StripThinking(in); got != "The answer." {
		t.Fatalf("got %q", got)
	}
}

func TestResultRoundTrip(t *testing.T) {
	t.Parallel()
	formatted := FormatResult("https://example.com/a", "2026-08-28", "An Article", "body text")

	url, ok := ResultURL(formatted)
	if !ok || url != "https://example.com/a" {
		t.Fatalf("ResultURL = (%q, %v)", url, ok)
	}
	if got := ResultTitle(formatted); got != "An Article" {
		t.Fatalf("ResultTitle = %q", got)
	}
	if got := ResultTitle("<result><content>x</content></result>"); got != "Unknown Title" {
		t.Fatalf("missing title should default, got %q", got)
	}
}

func TestAttachSourcesIdempotent(t *testing.T) {
	t.Parallel()
	sources := []Source{
		{URL: "https://weather.com/paris", Title: "Paris Forecast", Date: "2026-08-28"},
		{URL: "https://bbc.com/news", Title: "BBC", Date: "N/A"},
	}
	answer := "It will rain tomorrow."

	once := AttachSources(answer, sources)
	twice := AttachSources(once, sources)
	if once != twice {
		t.Fatalf("AttachSources not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
}

func TestAttachSourcesReplacesHallucinatedBlock(t *testing.T) {
	t.Parallel()
	answer := "Claim.\n<sources>\n<source url=\"https://fake.invalid\" date=\"N/A\">Fabricated</source>\n</sources>"

	got := AttachSources(answer, []Source{{URL: "https://real.com", Title: "Real", Date: "N/A"}})
	want := "Claim.\n\n<sources>\n<source url=\"https://real.com\" date=\"N/A\">Real</source>\n</sources>"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	// With no sources the hallucinated block is still removed.
	if got := AttachSources(answer, nil); got != "Claim." {
		t.Fatalf("empty sources should strip the block, got %q", got)
	}
}
