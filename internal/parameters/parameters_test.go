package parameters

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFromConfigString(t *testing.T) {
	params := NewFromConfigString(" fem_reduction=8, attention_scaled ,,name=a=b")
	require.Equal(t, Params{"fem_reduction": "8", "attention_scaled": "", "name": "a=b"}, params)
	require.Equal(t, "attention_scaled,fem_reduction=8,name=a=b", params.String())
	require.Empty(t, NewFromConfigString(""))
}

func TestGetParamOr(t *testing.T) {
	params := NewFromConfigString("i=7,f=0.5,b,b2=false,s=xyz,bad=x")

	i, err := GetParamOr(params, "i", 1)
	require.NoError(t, err)
	require.Equal(t, 7, i)

	f64, err := GetParamOr(params, "f", 1.0)
	require.NoError(t, err)
	require.Equal(t, 0.5, f64)

	f32, err := GetParamOr(params, "f", float32(1))
	require.NoError(t, err)
	require.Equal(t, float32(0.5), f32)

	b, err := GetParamOr(params, "b", false)
	require.NoError(t, err)
	require.True(t, b)
	b, err = GetParamOr(params, "b2", true)
	require.NoError(t, err)
	require.False(t, b)

	s, err := GetParamOr(params, "s", "")
	require.NoError(t, err)
	require.Equal(t, "xyz", s)

	missing, err := GetParamOr(params, "missing", 3)
	require.NoError(t, err)
	require.Equal(t, 3, missing)

	_, err = GetParamOr(params, "bad", 3)
	require.Error(t, err)
	_, err = GetParamOr(params, "bad", true)
	require.Error(t, err)
}

func TestPopParamOrAndCheckAllUsed(t *testing.T) {
	params := NewFromConfigString("fem_reduction=8,typo=1")
	r, err := PopParamOr(params, "fem_reduction", 16)
	require.NoError(t, err)
	require.Equal(t, 8, r)
	require.NotContains(t, params, "fem_reduction")

	err = params.CheckAllUsed()
	require.ErrorContains(t, err, "typo")

	delete(params, "typo")
	require.NoError(t, params.CheckAllUsed())
}
