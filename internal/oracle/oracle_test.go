package oracle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Sure! Here you go: {\"a\":{\"b\":2}} hope it helps {x}", `{"a":{"b":2}}`},
		{"brace in string", `{"a":"}"} trailing`, `{"a":"}"}`},
		{"no object", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestParseSelection(t *testing.T) {
	sel, err := ParseSelection("```json\n{\"files\":[\"src/calc.py\"],\"confidence\":0.8,\"rationale\":\"traceback points here\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/calc.py"}, sel.Files)
	assert.InDelta(t, 0.8, sel.Confidence, 1e-9)
}

func TestParseSelection_Invalid(t *testing.T) {
	cases := map[string]string{
		"not json":        "I think you should edit calc.py",
		"no files":        `{"files":[],"confidence":0.5,"rationale":"x"}`,
		"too many":        `{"files":["a","b","c","d","e","f"],"confidence":0.5,"rationale":"x"}`,
		"bad confidence":  `{"files":["a"],"confidence":1.5,"rationale":"x"}`,
		"no rationale":    `{"files":["a"],"confidence":0.5}`,
		"empty file name": `{"files":[""],"confidence":0.5,"rationale":"x"}`,
		"wrong type":      `{"files":"a.py","confidence":0.5,"rationale":"x"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSelection(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestParseUpdates(t *testing.T) {
	ps, err := ParseUpdates(`{"updates":[{"path":"src/calc.py","content":"def add(a, b):\n    return a + b\n"}],"summary":"fix add","confidence":0.7}`)
	require.NoError(t, err)
	require.Len(t, ps.Updates, 1)
	assert.Equal(t, "src/calc.py", ps.Updates[0].Path)
	assert.Equal(t, "fix add", ps.Summary)
	require.NotNil(t, ps.Confidence)
	assert.InDelta(t, 0.7, *ps.Confidence, 1e-9)

	ps, err = ParseUpdates(`{"updates":[]}`)
	require.NoError(t, err)
	assert.Empty(t, ps.Updates)
}

func TestParseUpdates_Malformed(t *testing.T) {
	cases := map[string]string{
		"missing updates": `{"summary":"x"}`,
		"missing content": `{"updates":[{"path":"a.py"}]}`,
		"code fence":      `{"updates":[{"path":"a.py","content":"` + "```python\\nx = 1\\n```" + `"}]}`,
		"sentinel":        `{"updates":[{"path":"a.py","content":"# NO_CHANGE\nx = 1\n"}]}`,
		"bad confidence":  `{"updates":[],"confidence":2}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseUpdates(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestCheckContent_SentinelAfterThirdLine(t *testing.T) {
	assert.NoError(t, CheckContent("a\nb\nc\n# NO_CHANGE is mentioned later\n"))
}

func TestReplay(t *testing.T) {
	r := NewReplay("one", "two").FailAt(1, errors.New("boom"))
	out, err := r.Complete(context.Background(), Request{User: "a"})
	require.NoError(t, err)
	assert.Equal(t, "one", out)

	_, err = r.Complete(context.Background(), Request{User: "b"})
	assert.EqualError(t, err, "boom")

	out, err = r.Complete(context.Background(), Request{User: "c"})
	require.NoError(t, err)
	assert.Equal(t, "two", out)

	_, err = r.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrReplayExhausted)
	assert.Len(t, r.Requests(), 4)
}

func TestLoadReplay(t *testing.T) {
	p := filepath.Join(t.TempDir(), "replay.json")
	require.NoError(t, os.WriteFile(p, []byte(`["{\"files\":[\"a.py\"]}"]`), 0o644))
	r, err := LoadReplay(p)
	require.NoError(t, err)
	out, err := r.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, `{"files":["a.py"]}`, out)
}

type slowClient struct{}

func (slowClient) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Second):
		return "late", nil
	}
}

func TestGuard_Timeout(t *testing.T) {
	g := NewGuard(slowClient{}, 50*time.Millisecond, 0, nil)
	_, err := g.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(Settings{Provider: "nope"}, nil)
	assert.Error(t, err)
}

func TestNew_Replay(t *testing.T) {
	p := filepath.Join(t.TempDir(), "replay.json")
	require.NoError(t, os.WriteFile(p, []byte(`["ok"]`), 0o644))
	c, err := New(Settings{Provider: ProviderReplay, ReplayFile: p}, nil)
	require.NoError(t, err)
	out, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}
