package compiler

import (
	"sync"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/dsl"
)

func loginCase() schemas.TestCase {
	return schemas.TestCase{
		ID:    7,
		Title: "Login works",
		Steps: []string{
			`Navigate to "https://example.com/login"`,
			`Fill "Username" with "alice"`,
			`Fill "Password" with "s3cret"`,
			`Click "#submit"`,
			"Wait 3 seconds",
		},
		Assertions: []string{
			`Page title contains "Dashboard"`,
			`URL contains "/dashboard"`,
		},
	}
}

func TestCompiler_Compile(t *testing.T) {
	c, err := New(16, zap.NewNop())
	require.NoError(t, err)

	ct := c.Compile(loginCase())

	wantActions := []dsl.Action{
		dsl.Navigate{URL: "https://example.com/login"},
		dsl.Fill{Selector: "Username", Value: "alice"},
		dsl.Fill{Selector: "Password", Value: "s3cret"},
		dsl.Click{Selector: "#submit"},
		dsl.Wait{DurationMs: 3000},
	}
	wantAssertions := []dsl.Assertion{
		dsl.TitleContains{Text: "Dashboard"},
		dsl.URLContains{Text: "/dashboard"},
	}
	if diff := cmp.Diff(wantActions, ct.Actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantAssertions, ct.Assertions); diff != "" {
		t.Errorf("assertions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(7), ct.TestCase.ID)
	assert.Empty(t, ct.Gaps())
	assert.Len(t, ct.Hash, 64)
}

func TestCompiler_LengthsMatchSource(t *testing.T) {
	c, err := New(0, nil)
	require.NoError(t, err)

	tc := schemas.TestCase{
		Steps:      []string{"hum a tune", `Click "Go"`, ""},
		Assertions: []string{"looks nice"},
	}
	ct := c.Compile(tc)
	require.Len(t, ct.Actions, 3)
	require.Len(t, ct.Assertions, 1)

	gaps := ct.Gaps()
	require.Len(t, gaps, 3)
	assert.Equal(t, dsl.Gap{Kind: schemas.KindAction, Index: 1, Raw: "hum a tune"}, gaps[0])
	assert.Equal(t, dsl.Gap{Kind: schemas.KindAction, Index: 3, Raw: ""}, gaps[1])
	assert.Equal(t, dsl.Gap{Kind: schemas.KindAssertion, Index: 1, Raw: "looks nice"}, gaps[2])
}

func TestCompiler_Deterministic(t *testing.T) {
	a, err := New(4, nil)
	require.NoError(t, err)
	b, err := New(4, nil)
	require.NoError(t, err)

	first := a.Compile(loginCase())
	second := b.Compile(loginCase())
	cached := a.Compile(loginCase())

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("separate compilers disagree (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first, cached); diff != "" {
		t.Errorf("cached result differs (-first +cached):\n%s", diff)
	}
}

func TestCompiler_CacheKeyedByContent(t *testing.T) {
	c, err := New(4, nil)
	require.NoError(t, err)

	tc := loginCase()
	c.Compile(tc)

	renamed := loginCase()
	renamed.ID = 99
	renamed.Title = "Another title"
	ct := c.Compile(renamed)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, int64(99), ct.TestCase.ID, "the caller's case is attached, not the cached one")
	assert.Equal(t, "Another title", ct.TestCase.Title)
}

func TestCompiler_CachedSlicesAreCopies(t *testing.T) {
	c, err := New(4, nil)
	require.NoError(t, err)

	first := c.Compile(loginCase())
	first.Actions[0] = dsl.Wait{DurationMs: 1}

	second := c.Compile(loginCase())
	assert.Equal(t, dsl.Navigate{URL: "https://example.com/login"}, second.Actions[0])
}

func TestCompiler_LogsGaps(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c, err := New(4, zap.New(core))
	require.NoError(t, err)

	c.Compile(schemas.TestCase{ID: 3, Steps: []string{"juggle"}})

	entries := logs.FilterMessage("Could not compile test text.").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(3), fields["test_case_id"])
	assert.Equal(t, "action", fields["kind"])
	assert.Equal(t, "juggle", fields["text"])
}

func TestCompiler_ConcurrentUse(t *testing.T) {
	c, err := New(2, nil)
	require.NoError(t, err)

	cases := []schemas.TestCase{
		loginCase(),
		{Steps: []string{"Wait 1 second"}},
		{Steps: []string{`Click "Buy"`}, Assertions: []string{`"#cart" exists`}},
	}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(tc schemas.TestCase) {
			defer wg.Done()
			ct := c.Compile(tc)
			assert.Len(t, ct.Actions, len(tc.Steps))
			assert.Len(t, ct.Assertions, len(tc.Assertions))
		}(cases[i%len(cases)])
	}
	wg.Wait()

	hits, misses := c.Stats()
	assert.Equal(t, int64(30), hits+misses)
}

func TestContentHash(t *testing.T) {
	a := schemas.TestCase{Steps: []string{"ab", "c"}}
	b := schemas.TestCase{Steps: []string{"a", "bc"}}
	c := schemas.TestCase{Assertions: []string{"ab", "c"}}

	assert.NotEqual(t, ContentHash(a), ContentHash(b))
	assert.NotEqual(t, ContentHash(a), ContentHash(c))
	assert.Equal(t, ContentHash(a), ContentHash(schemas.TestCase{ID: 5, Steps: []string{"ab", "c"}}))
}

// FuzzCompile checks that compilation never panics, preserves lengths, and only ever produces
// Unresolved variants that carry the source text.
func FuzzCompile(f *testing.F) {
	f.Add([]byte(`Fill "Username" with "alice"`))
	f.Add([]byte("wait 1.5 minutes"))
	f.Add([]byte("\x01\x02'\"“"))

	c, err := New(8, nil)
	if err != nil {
		f.Fatal(err)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		var tc schemas.TestCase
		for i := 0; i < 8; i++ {
			s, err := consumer.GetString()
			if err != nil {
				break
			}
			if i%2 == 0 {
				tc.Steps = append(tc.Steps, s)
			} else {
				tc.Assertions = append(tc.Assertions, s)
			}
		}
		if len(tc.Steps) == 0 {
			tc.Steps = []string{string(data)}
		}

		ct := c.Compile(tc)
		if len(ct.Actions) != len(tc.Steps) || len(ct.Assertions) != len(tc.Assertions) {
			t.Fatalf("length mismatch: %d/%d actions, %d/%d assertions",
				len(ct.Actions), len(tc.Steps), len(ct.Assertions), len(tc.Assertions))
		}
		for i, a := range ct.Actions {
			if u, ok := a.(dsl.UnresolvedAction); ok && u.Raw != tc.Steps[i] {
				t.Errorf("unresolved action %d lost its text", i)
			}
		}
		for i, a := range ct.Assertions {
			if u, ok := a.(dsl.UnresolvedAssertion); ok && u.Raw != tc.Assertions[i] {
				t.Errorf("unresolved assertion %d lost its text", i)
			}
		}
	})
}
