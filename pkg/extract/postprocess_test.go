package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		want      string
	}{
		{
			name:      "no fences passes through",
			candidate: "import unittest\n",
			want:      "import unittest",
		},
		{
			name:      "fenced with language tag",
			candidate: "Here is the test:\n```python\nimport unittest\n```\nHope it helps!",
			want:      "import unittest",
		},
		{
			name:      "bare fences",
			candidate: "```\nimport unittest\n```",
			want:      "import unittest",
		},
		{
			name:      "multiple blocks joined",
			candidate: "```python\nimport unittest\n```\nand\n```python\nclass T: pass\n```",
			want:      "import unittest\n\nclass T: pass",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFences(tt.candidate))
		})
	}
}

func TestPostprocess_InsertsMissingImport(t *testing.T) {
	adapter := NewPythonAdapter()

	candidate := "import unittest\n\nclass TestAdd(unittest.TestCase):\n    def test_add(self):\n        self.assertEqual(add(1, 2), 3)\n"
	out := adapter.PostprocessCandidate(candidate, "calculator", "add")

	lines := strings.Split(out, "\n")
	assert.Equal(t, "from calculator import add", lines[0])
}

func TestPostprocess_KeepsExistingImports(t *testing.T) {
	adapter := NewPythonAdapter()

	for _, existing := range []string{
		"from calculator import add",
		"from calculator import *",
		"import calculator",
	} {
		candidate := existing + "\nimport unittest\n\nif __name__ == \"__main__\":\n    unittest.main()\n"
		out := adapter.PostprocessCandidate(candidate, "calculator", "add")
		assert.Equal(t, 1, strings.Count(out, existing), "should not duplicate %q", existing)
		assert.False(t, strings.HasPrefix(out, "from calculator import add\n"+existing))
	}
}

func TestPostprocess_AppendsEntryPoint(t *testing.T) {
	adapter := NewPythonAdapter()

	out := adapter.PostprocessCandidate("from m import f\nimport unittest\n\nclass T(unittest.TestCase): pass\n", "m", "f")
	assert.Contains(t, out, "if __name__ == \"__main__\":")
	assert.Contains(t, out, "unittest.main()")

	// Already has a guard: nothing appended.
	withGuard := "from m import f\nif __name__ == \"__main__\":\n    unittest.main()\n"
	assert.Equal(t, 1, strings.Count(adapter.PostprocessCandidate(withGuard, "m", "f"), "unittest.main("))
}
