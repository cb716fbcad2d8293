package meta_test

import (
	"testing"

	"cabinmap/core-go/internal/meta"
	"cabinmap/core-go/internal/meta/metatest"
)

func TestMemory_Contract(t *testing.T) {
	metatest.Run(t, func(t *testing.T) meta.Backend {
		return meta.NewMemory()
	})
}
