package shadow

import "testing"

func TestMatcher(t *testing.T) {
	m := NewMatcher([]string{".git", "node_modules", "*.log", ""})

	tests := []struct {
		path string
		want bool
	}{
		{".git", true},
		{"node_modules/a/b.js", true},
		{"pkg/node_modules/x", true},
		{"server.log", true},
		{"logs/today.log", true},
		{"main.go", false},
		{"catalog/item.go", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := m.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestIncludeMatch(t *testing.T) {
	patterns := []string{"./src/a.go", "docs", "*.md"}

	tests := []struct {
		path string
		want bool
	}{
		{"src/a.go", true},
		{"src/ab.go", false},
		{"docs/guide.txt", true},
		{"docsx/guide.txt", false},
		{"README.md", true},
		{"main.go", false},
	}

	for _, tt := range tests {
		if got := includeMatch(tt.path, patterns); got != tt.want {
			t.Errorf("includeMatch(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
