package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aurelia-home/synergy-engine/internal/engine/types"
)

// BuildDescriptor renders a device's metadata into the deterministic text the
// embedding backend vectorizes. Capabilities are sorted so the same device
// always produces the same descriptor regardless of hub enumeration order.
func BuildDescriptor(device types.Device) string {
	caps := make([]string, len(device.Capabilities))
	copy(caps, device.Capabilities)
	sort.Strings(caps)

	parts := []string{
		fmt.Sprintf("name: %s", device.Name),
		fmt.Sprintf("area: %s", device.Area),
		fmt.Sprintf("domain: %s", device.Domain),
	}
	if len(caps) > 0 {
		parts = append(parts, fmt.Sprintf("capabilities: %s", strings.Join(caps, ", ")))
	}

	return strings.Join(parts, " | ")
}

// DescriptorHash returns the content hash used for cache invalidation.
func DescriptorHash(descriptor string) string {
	sum := sha256.Sum256([]byte(descriptor))
	return hex.EncodeToString(sum[:])
}

// Cosine returns the cosine similarity of two vectors, or 0 when either is
// empty or the dimensions disagree.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
