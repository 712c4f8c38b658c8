package agent

import "testing"

func TestSanitizeAssistantText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text untouched",
			in:   "Here are today's headlines.",
			want: "Here are today's headlines.",
		},
		{
			name: "thinking tags stripped",
			in:   "<think>pull the feed first,\nthen summarize</think>Three stories stood out today.",
			want: "Three stories stood out today.",
		},
		{
			name: "thought tag mid-sentence",
			in:   "Sure.<thought>use fetch_rss</thought> Done.",
			want: "Sure. Done.",
		},
		{
			name: "tool call xml drops whole response",
			in:   "<tool_call>\n{\"name\": \"fetch_url\"}\n</tool_call>",
			want: "",
		},
		{
			name: "invoke block drops whole response",
			in:   "Let me check that.\n<invoke name=\"fetch_url\"><parameter name=\"url\">x</parameter></invoke>",
			want: "",
		},
		{
			name: "repeated paragraph collapsed",
			in:   "Reminder set for 9am.\n\nReminder set for 9am.",
			want: "Reminder set for 9am.",
		},
		{
			name: "distinct paragraphs kept",
			in:   "First point.\n\nSecond point.",
			want: "First point.\n\nSecond point.",
		},
		{
			name: "surrounding whitespace trimmed",
			in:   "\n\n  Done.  \n",
			want: "Done.",
		},
		{
			name: "empty stays empty",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeAssistantText(tt.in); got != tt.want {
				t.Errorf("SanitizeAssistantText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
