// internal/compiler/compiler.go
package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/dsl"
)

// DefaultCacheSize bounds the compile cache when the caller passes a non-positive size.
const DefaultCacheSize = 512

// compiled is the cached part of a CompiledTest: everything derived from the source text.
type compiled struct {
	actions    []dsl.Action
	assertions []dsl.Assertion
}

// Compiler turns test cases into CompiledTests. Compilation is a pure function of the step and
// assertion text, so results are memoized by content hash. Safe for concurrent use.
type Compiler struct {
	logger *zap.Logger
	cache  *lru.Cache[string, compiled]

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Compiler with an LRU cache of cacheSize entries.
func New(cacheSize int, logger *zap.Logger) (*Compiler, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, compiled](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Compiler{
		logger: logger.Named("compiler"),
		cache:  cache,
	}, nil
}

// Compile translates every step and assertion of tc. It always succeeds; anything no rule
// understands is carried through as an Unresolved variant.
func (c *Compiler) Compile(tc schemas.TestCase) *dsl.CompiledTest {
	hash := ContentHash(tc)
	entry, ok := c.cache.Get(hash)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
		entry = compileSequences(tc)
		c.cache.Add(hash, entry)
	}

	ct := &dsl.CompiledTest{
		TestCase:   tc,
		Actions:    append([]dsl.Action(nil), entry.actions...),
		Assertions: append([]dsl.Assertion(nil), entry.assertions...),
		Hash:       hash,
	}
	if gaps := ct.Gaps(); len(gaps) > 0 {
		for _, g := range gaps {
			c.logger.Warn("Could not compile test text.",
				zap.Int64("test_case_id", tc.ID),
				zap.String("kind", string(g.Kind)),
				zap.Int("index", g.Index),
				zap.String("text", g.Raw),
			)
		}
	}
	return ct
}

// CompileAll compiles a batch, preserving order.
func (c *Compiler) CompileAll(cases []schemas.TestCase) []*dsl.CompiledTest {
	out := make([]*dsl.CompiledTest, 0, len(cases))
	for _, tc := range cases {
		out = append(out, c.Compile(tc))
	}
	return out
}

// Stats returns the cache hit and miss counts.
func (c *Compiler) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func compileSequences(tc schemas.TestCase) compiled {
	entry := compiled{
		actions:    make([]dsl.Action, 0, len(tc.Steps)),
		assertions: make([]dsl.Assertion, 0, len(tc.Assertions)),
	}
	for _, step := range tc.Steps {
		entry.actions = append(entry.actions, CompileStep(step))
	}
	for _, a := range tc.Assertions {
		entry.assertions = append(entry.assertions, CompileAssertion(a))
	}
	return entry
}

// ContentHash identifies the compilable content of a test case. Identifiers and metadata are
// excluded, so two cases with the same text share a cache entry.
func ContentHash(tc schemas.TestCase) string {
	h := sha256.New()
	writeList := func(tag byte, items []string) {
		h.Write([]byte{tag})
		for _, s := range items {
			// Length-prefix each item so ["ab","c"] and ["a","bc"] differ.
			var n [8]byte
			l := uint64(len(s))
			for i := range n {
				n[i] = byte(l >> (8 * i))
			}
			h.Write(n[:])
			h.Write([]byte(s))
		}
	}
	writeList('S', tc.Steps)
	writeList('A', tc.Assertions)
	return hex.EncodeToString(h.Sum(nil))
}
