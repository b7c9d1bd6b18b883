package memory

import (
	"testing"

	"github.com/moorhen/cartograph/internal/store"
	"github.com/moorhen/cartograph/internal/store/conformance"
)

func TestConformance(t *testing.T) {
	conformance.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
