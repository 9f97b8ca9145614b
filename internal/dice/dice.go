// Package dice parses dice-notation tokens and produces roll outcomes.
package dice

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// ErrInvalidFormula is returned when a token does not match the
// <count>d<sides><+|-><bonus> pattern.
var ErrInvalidFormula = errors.New("invalid roll formula")

// formulaPattern matches tokens like "1d20+5" or "2d6 - 2".
// The d is case-insensitive and whitespace is allowed around the operator.
var formulaPattern = regexp.MustCompile(`^(\d+)[dD](\d+)\s*([+-])\s*(\d+)$`)

// Spec is a parsed roll formula.
type Spec struct {
	Count int
	Sides int
	Bonus int // signed
}

// Result is the outcome of rolling a formula.
type Result struct {
	Formula string `json:"formula"`
	Dice    []int  `json:"diceResults"`
	Bonus   int    `json:"bonus"`
	Total   int    `json:"total"`
}

// Parse validates and decomposes a roll formula.
func Parse(formula string) (Spec, error) {
	m := formulaPattern.FindStringSubmatch(formula)
	if m == nil {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
	}

	count, err := strconv.Atoi(m[1])
	if err != nil || count < 1 {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil || sides < 1 {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
	}
	bonus, err := strconv.Atoi(m[4])
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
	}
	if m[3] == "-" {
		bonus = -bonus
	}

	return Spec{Count: count, Sides: sides, Bonus: bonus}, nil
}

var (
	defaultMu  sync.Mutex
	defaultRng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Roll parses and rolls a formula using the process-wide random source.
// Not reproducible; tests should use RollWithRand.
func Roll(formula string) (Result, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return RollWithRand(defaultRng, formula)
}

// RollWithRand parses and rolls a formula using the provided source.
func RollWithRand(rng *rand.Rand, formula string) (Result, error) {
	spec, err := Parse(formula)
	if err != nil {
		return Result{}, err
	}

	results := make([]int, spec.Count)
	total := spec.Bonus
	for i := range results {
		v := rng.Intn(spec.Sides) + 1
		results[i] = v
		total += v
	}

	return Result{
		Formula: formula,
		Dice:    results,
		Bonus:   spec.Bonus,
		Total:   total,
	}, nil
}
