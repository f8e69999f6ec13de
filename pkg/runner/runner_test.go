package runner

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunUnsupportedLanguage(t *testing.T) {
	r := New(time.Second)
	for _, lang := range []string{"java", "cpp", "csharp", "brainfuck", ""} {
		_, err := r.Run("whatever", lang)
		assert.Error(t, err)
	}
}

func TestRunJavascript(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node is not installed")
	}
	r := New(5 * time.Second)
	out, err := r.Run(`console.log("hello")`, "javascript")
	assert.NoError(t, err)
	assert.Contains(t, out, "hello")
}

func TestRunJavascriptError(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node is not installed")
	}
	r := New(5 * time.Second)
	_, err := r.Run(`throw new Error("boom")`, "javascript")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunTimeout(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 is not installed")
	}
	r := New(500 * time.Millisecond)
	_, err := r.Run("while True:\n    pass\n", "python")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}
