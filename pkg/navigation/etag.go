package navigation

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/tollgate-io/tollgate/pkg/permissions"
)

// ETagFor derives the content hash of a resolved permission set. The hash
// covers only the decision content (sorted view IDs, sorted feature grants),
// never ComputedAt, so recomputing an unchanged set yields the same ETag.
func ETagFor(set *permissions.ResolvedSet) string {
	views := set.ViewIDs()

	features := make([]string, 0, len(set.Features))
	for key, scope := range set.Features {
		features = append(features, key.String()+"="+scope.String())
	}
	sort.Strings(features)

	h := sha256.New()
	for _, viewID := range views {
		h.Write([]byte(viewID))
		h.Write([]byte{'\n'})
	}
	h.Write([]byte{0})
	for _, grant := range features {
		h.Write([]byte(grant))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
