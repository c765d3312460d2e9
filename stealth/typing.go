package stealth

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/go-rod/rod"
)

// Typist spaces keystrokes the way a person types: word and sentence
// boundaries are slower, shifted characters take longer and there is the
// odd pause to think.
type Typist struct {
	Base      time.Duration
	Variation time.Duration
	// ThinkChance is the probability of a ThinkMin..ThinkMax pause after a
	// keystroke.
	ThinkChance float64
	ThinkMin    time.Duration
	ThinkMax    time.Duration
}

// DefaultTypist types at roughly 75 words per minute.
func DefaultTypist() Typist {
	return Typist{
		Base:        80 * time.Millisecond,
		Variation:   40 * time.Millisecond,
		ThinkChance: 0.05,
		ThinkMin:    300 * time.Millisecond,
		ThinkMax:    800 * time.Millisecond,
	}
}

const minKeystroke = 30 * time.Millisecond

// Delay returns the pause after typing r as the i-th character.
func (t Typist) Delay(r rune, i int) time.Duration {
	factor := 1.0
	switch {
	case r == ' ':
		factor = 1.3
	case strings.ContainsRune(".!?", r):
		factor = 1.8
	case strings.ContainsRune(",;:@#$%", r):
		factor = 1.4
	case r >= 'A' && r <= 'Z':
		factor = 1.2
	case r >= '0' && r <= '9':
		factor = 1.15
	}
	if i == 0 {
		factor *= 1.5
	}

	d := time.Duration(float64(t.Base) * factor)
	if t.Variation > 0 {
		d += time.Duration(rand.Int63n(int64(2*t.Variation))) - t.Variation
	}
	if d < minKeystroke {
		d = minKeystroke
	}
	if rand.Float64() < t.ThinkChance {
		d += Between(t.ThinkMin, t.ThinkMax)
	}
	return d
}

// Type inserts text into the focused element one character at a time.
func (t Typist) Type(ctx context.Context, page *rod.Page, text string) error {
	i := 0
	for _, r := range text {
		if err := page.InsertText(string(r)); err != nil {
			return err
		}
		if err := Sleep(ctx, t.Delay(r, i)); err != nil {
			return err
		}
		i++
	}
	return nil
}
