package rand

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringLengthAndCharset(t *testing.T) {
	for _, n := range []int{0, 1, 8, 64} {
		s := String(n)
		assert.Len(t, s, n)
		for _, c := range s {
			assert.Contains(t, charset, string(c))
		}
	}
}

func TestStringIsConcurrencySafe(t *testing.T) {
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				String(8)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
