package editor

import "testing"

func TestStripComments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "fix the bug\n", "fix the bug"},
		{"comment lines removed", "fix the bug\n# instructions\n# more\n", "fix the bug"},
		{"indented comment removed", "  # note\ntask\n", "task"},
		{"only comments", "# a\n# b\n", ""},
		{"empty", "", ""},
		{"hash mid-line kept", "use the #ops channel\n", "use the #ops channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripComments(tt.in); got != tt.want {
				t.Errorf("StripComments(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTaskTemplateIsAllComments(t *testing.T) {
	if got := StripComments(taskTemplate); got != "" {
		t.Errorf("template should strip to empty, got %q", got)
	}
}
