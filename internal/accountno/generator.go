package accountno

import (
	"crypto/rand"
	"fmt"
	"io"
)

// Length is the number of digits in a wallet account number.
const Length = 10

// Generator produces numeric account numbers from a random source.
type Generator struct {
	rand io.Reader
}

// New returns a Generator reading from crypto/rand.
func New() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewWithSource returns a Generator reading from src. Useful for tests.
func NewWithSource(src io.Reader) *Generator {
	return &Generator{rand: src}
}

// Generate returns a fresh Length-digit account number. Uniqueness is not
// checked here; the wallet store rejects duplicates.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, Length)
	out := make([]byte, Length)
	filled := 0
	for filled < Length {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			// 250 is the largest multiple of 10 below 256; rejecting the
			// remainder keeps every digit equally likely.
			if b >= 250 {
				continue
			}
			out[filled] = '0' + b%10
			filled++
			if filled == Length {
				break
			}
		}
	}
	return string(out), nil
}
