package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomAvoidsReservedRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		v := Random[kService]()
		assert.False(t, v.IsZero())
		blob := v.ToBlob()
		assert.Len(t, blob, 16)
	}
}

func TestUpcastDowncastRoundTrip(t *testing.T) {
	svc := Random[kService]()
	any := svc.Upcast()
	assert.Equal(t, KindService, any.Kind())

	back, err := Downcast[kService](any)
	require.NoError(t, err)
	assert.True(t, Eq(svc, back))
}

func TestDowncastKindMismatch(t *testing.T) {
	svc := Random[kService]()
	any := svc.Upcast()

	_, err := Downcast[kPersona](any)
	require.Error(t, err)
	var mismatch *ErrKindMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, KindPersona, mismatch.Want)
	assert.Equal(t, KindService, mismatch.Got)
}

func TestFromRawArrayAndBlobRoundTrip(t *testing.T) {
	var raw [16]byte
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	v := FromRawArray[kDirectory](raw)
	assert.Equal(t, raw[:], v.ToBlob())
}

func TestFromUint64RejectsOutOfRange(t *testing.T) {
	assert.Panics(t, func() { FromUint64[kProperty](reservedMax) })
	assert.NotPanics(t, func() { FromUint64[kProperty](reservedMax - 1) })
}

func TestBuiltinEncryptedProps(t *testing.T) {
	assert.True(t, BuiltinUsername.IsEncryptedProp())
	assert.True(t, BuiltinEmail.IsEncryptedProp())
	assert.True(t, BuiltinPasswordHash.IsEncryptedProp())
	assert.True(t, BuiltinK8sServiceAccount.IsEncryptedProp())
	assert.True(t, BuiltinAuthlyInstance.IsEncryptedProp())
	assert.False(t, BuiltinEntity.IsEncryptedProp())

	all := AllEncryptedProps()
	assert.Contains(t, all, BuiltinUsername)
	assert.NotContains(t, all, BuiltinEntity)
}

func TestBuiltinRoleAttributes(t *testing.T) {
	attrs := BuiltinAuthlyRole.RoleAttributes()
	assert.Contains(t, attrs, "apply_document")
	assert.Contains(t, attrs, "get_access_token")
	assert.Nil(t, BuiltinEntity.RoleAttributes())
}

func TestParseLiteralRoundTrip(t *testing.T) {
	svc := Random[kService]()
	lit := svc.Upcast().String()

	parsed, err := ParseLiteral(lit)
	require.NoError(t, err)
	assert.True(t, svc.Upcast().Equal(parsed))
}

func TestParseLiteralRejectsGarbage(t *testing.T) {
	_, err := ParseLiteral("not-a-literal")
	require.Error(t, err)

	_, err = ParseLiteral("z.00")
	require.Error(t, err)
}
