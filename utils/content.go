package utils

import (
	"math/rand"
	"strings"
	"time"
)

// Pools for generated warmup traffic. Kept boring on purpose: warmup
// mail should read like ordinary correspondence between colleagues.
var (
	warmupSubjects = []string{
		"Quick question about the project",
		"Following up on our conversation",
		"Thoughts on the proposal?",
		"Checking in",
		"Updates from this week",
		"Meeting notes and next steps",
		"Quick sync before Friday?",
		"Re: planning for next quarter",
	}

	warmupGreetings = []string{
		"Hi there,",
		"Hello,",
		"Hey,",
		"Good morning,",
		"Hope you're doing well,",
	}

	warmupBodies = []string{
		"I wanted to follow up on what we discussed last week. I think the direction makes sense and we should move forward with it.",
		"Just checking in to see how things are progressing on your end. Let me know if there's anything I can help with.",
		"I had a chance to review the materials you sent over. Overall it looks solid, though I have a couple of small suggestions.",
		"Things have been busy over here but we're making good progress. I'll have a fuller update for you by end of week.",
		"I came across something today that reminded me of our conversation. Worth a quick chat when you have a moment.",
	}

	warmupClosings = []string{
		"Looking forward to hearing from you.",
		"Let me know what you think.",
		"Talk soon.",
		"Thanks again for your time.",
		"Happy to discuss whenever works for you.",
	}

	warmupSignatures = []string{
		"Best regards",
		"Best",
		"Cheers",
		"Thanks",
		"Kind regards",
	}

	replyIntros = []string{
		"Thanks for reaching out!",
		"Good to hear from you.",
		"Thanks for the update.",
		"Appreciate you following up.",
	}

	replyBodies = []string{
		"That all sounds reasonable to me. I'll take a closer look and get back to you with anything that stands out.",
		"I agree with your take. Let's plan to move ahead as discussed.",
		"I've been thinking about this too. Your timing is good because we were just about to revisit it on our side.",
		"Makes sense. I'll loop in the rest of the team so everyone is on the same page.",
	}

	replyQuestions = []string{
		"Does the timeline still work for you?",
		"Anything you need from me in the meantime?",
		"Should we set up a quick call this week?",
		"",
	}
)

// ContentGenerator produces warmup subjects, bodies and replies from
// independent pools. The RNG is injected so tests can be deterministic.
type ContentGenerator struct {
	rng *rand.Rand
}

// NewContentGenerator builds a generator; a nil rng gets a time seed.
func NewContentGenerator(rng *rand.Rand) *ContentGenerator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &ContentGenerator{rng: rng}
}

// Generate returns a fresh warmup subject and body. Subject and body
// are drawn independently.
func (g *ContentGenerator) Generate() (subject, content string) {
	subject = warmupSubjects[g.rng.Intn(len(warmupSubjects))]
	content = strings.Join([]string{
		warmupGreetings[g.rng.Intn(len(warmupGreetings))],
		"",
		warmupBodies[g.rng.Intn(len(warmupBodies))],
		"",
		warmupClosings[g.rng.Intn(len(warmupClosings))],
		warmupSignatures[g.rng.Intn(len(warmupSignatures))],
	}, "\n")
	return subject, content
}

// GenerateReply returns a reply subject and body for an incoming warmup
// message with the given subject.
func (g *ContentGenerator) GenerateReply(originalSubject string) (subject, content string) {
	subject = originalSubject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	parts := []string{
		warmupGreetings[g.rng.Intn(len(warmupGreetings))],
		"",
		replyIntros[g.rng.Intn(len(replyIntros))],
		replyBodies[g.rng.Intn(len(replyBodies))],
	}
	if q := replyQuestions[g.rng.Intn(len(replyQuestions))]; q != "" {
		parts = append(parts, q)
	}
	parts = append(parts, "",
		warmupClosings[g.rng.Intn(len(warmupClosings))],
		warmupSignatures[g.rng.Intn(len(warmupSignatures))],
	)
	return subject, strings.Join(parts, "\n")
}
