package provenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVariantKinds(t *testing.T) {
	assert.Equal(t, KindManagedSafe, ManagedSafe{}.Kind())
	assert.Equal(t, KindUncheckedRegion, UncheckedRegion{}.Kind())
	assert.Equal(t, KindNativeCall, NativeCall{}.Kind())
	assert.Equal(t, KindBoundaryTransfer, BoundaryTransfer{}.Kind())
}

func TestVariantStrings(t *testing.T) {
	assert.Equal(t, "managed-safe", ManagedSafe{}.String())
	assert.Equal(t, "unchecked-region(codec.inlineBuffer)",
		UncheckedRegion{Location: "codec.inlineBuffer"}.String())
	assert.Equal(t, "native-call(libssl!SSL_new)",
		NativeCall{Library: "libssl", Function: "SSL_new"}.String())
}

func TestBoundaryTransferNests(t *testing.T) {
	inner := BoundaryTransfer{
		From: ManagedSafe{},
		To:   NativeCall{Library: "libz", Function: "deflateInit"},
	}
	outer := BoundaryTransfer{From: inner, To: ManagedSafe{}}

	assert.Equal(t,
		"boundary-transfer(boundary-transfer(managed-safe -> native-call(libz!deflateInit)) -> managed-safe)",
		outer.String())
}

func TestEventKindStrings(t *testing.T) {
	assert.Equal(t, "managed-to-native", ManagedToNative.String())
	assert.Equal(t, "native-to-managed", NativeToManaged.String())
	assert.Equal(t, "ownership-transfer", OwnershipTransfer.String())
	assert.Equal(t, "shared-access", SharedAccess.String())
}
