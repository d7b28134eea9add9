package auth

import (
	"slices"
	"strings"
	"unicode"
)

// Strength grades a plaintext password.
type Strength int

const (
	VeryWeak Strength = iota
	Weak
	Medium
	Strong
	VeryStrong
)

func (s Strength) String() string {
	switch s {
	case VeryWeak:
		return "very_weak"
	case Weak:
		return "weak"
	case Medium:
		return "medium"
	case Strong:
		return "strong"
	case VeryStrong:
		return "very_strong"
	}
	return "unknown"
}

var weakPatterns = []struct {
	substr string
	advice string
}{
	{"123", "avoid sequential numbers"},
	{"abc", "avoid sequential letters"},
	{"qwerty", "avoid keyboard patterns"},
	{"password", "do not use the word 'password'"},
	{"admin", "do not use the word 'admin'"},
}

var commonPasswords = []string{
	"123456", "password", "12345678", "qwerty", "123456789", "12345",
	"1234", "111111", "1234567", "dragon", "123123", "baseball",
	"abc123", "football", "monkey", "letmein", "shadow", "master",
	"abc", "123", "admin", "test", "guest",
}

// CheckStrength scores a plaintext password from 0 to 100 and returns advice
// for improving it. Hash strings are not checked and score 100.
func CheckStrength(password string) (Strength, int, []string) {
	if IsHashString(password) {
		return VeryStrong, 100, nil
	}
	if password == "" {
		return VeryWeak, 0, []string{"a password is required"}
	}

	var advice []string
	add := func(s string) {
		if !slices.Contains(advice, s) {
			advice = append(advice, s)
		}
	}

	score := 0
	switch n := len([]rune(password)); {
	case n < 8:
		add("use at least 8 characters, 12 or more recommended")
	case n < 12:
		score += 20
		add("consider 12 or more characters")
	case n < 16:
		score += 30
	default:
		score += 40
	}

	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	kinds := 0
	for _, ok := range []bool{lower, upper, digit, special} {
		if ok {
			kinds++
		}
	}
	score += kinds * 10
	if !digit {
		add("add numbers")
	}
	if !special {
		add("add special characters")
	}
	if !lower || !upper {
		add("mix uppercase and lowercase letters")
	}

	folded := strings.ToLower(password)
	for _, p := range weakPatterns {
		if strings.Contains(folded, p.substr) {
			score -= 10
			add(p.advice)
		}
	}
	if hasRun(folded, 3) {
		score -= 10
		add("avoid repeating characters")
	}
	if slices.Contains(commonPasswords, folded) {
		score -= 30
		add("this is a commonly used password")
	}

	score = max(0, min(100, score))
	return strengthFor(score), score, advice
}

func strengthFor(score int) Strength {
	switch {
	case score < 20:
		return VeryWeak
	case score < 40:
		return Weak
	case score < 60:
		return Medium
	case score < 80:
		return Strong
	}
	return VeryStrong
}

// hasRun reports whether s repeats one character n or more times in a row.
func hasRun(s string, n int) bool {
	var prev rune
	run := 0
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}
