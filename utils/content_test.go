package utils

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateProducesNonEmptyContent(t *testing.T) {
	gen := NewContentGenerator(rand.New(rand.NewSource(1)))
	for i := 0; i < 50; i++ {
		subject, content := gen.Generate()
		assert.NotEmpty(t, subject)
		assert.NotEmpty(t, content)
	}
}

func TestGenerateDrawsFromPools(t *testing.T) {
	gen := NewContentGenerator(rand.New(rand.NewSource(42)))
	subject, content := gen.Generate()

	assert.Contains(t, warmupSubjects, subject)

	lines := strings.Split(content, "\n")
	assert.Contains(t, warmupGreetings, lines[0])
	assert.Contains(t, warmupSignatures, lines[len(lines)-1])
}

func TestGenerateIsDeterministicWithSeed(t *testing.T) {
	a := NewContentGenerator(rand.New(rand.NewSource(7)))
	b := NewContentGenerator(rand.New(rand.NewSource(7)))

	for i := 0; i < 10; i++ {
		sa, ca := a.Generate()
		sb, cb := b.Generate()
		assert.Equal(t, sa, sb)
		assert.Equal(t, ca, cb)
	}
}

func TestGenerateVariesAcrossCalls(t *testing.T) {
	gen := NewContentGenerator(rand.New(rand.NewSource(3)))
	seen := map[string]bool{}
	for i := 0; i < 40; i++ {
		_, content := gen.Generate()
		seen[content] = true
	}
	assert.Greater(t, len(seen), 1, "content generation should vary")
}

func TestGenerateReplyAddsPrefixOnce(t *testing.T) {
	gen := NewContentGenerator(rand.New(rand.NewSource(5)))

	subject, content := gen.GenerateReply("Checking in")
	assert.Equal(t, "Re: Checking in", subject)
	assert.NotEmpty(t, content)

	subject, _ = gen.GenerateReply("Re: Checking in")
	assert.Equal(t, "Re: Checking in", subject)

	subject, _ = gen.GenerateReply("re: checking in")
	assert.Equal(t, "re: checking in", subject)
}
