package ledgerio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalStable_SortsKeysAndIsCompact(t *testing.T) {
	type payload struct {
		Zeta  int    `json:"zeta"`
		Alpha string `json:"alpha"`
	}

	out, err := MarshalStable(payload{Zeta: 1, Alpha: "x"})
	require.NoError(t, err)
	require.Equal(t, `{"alpha":"x","zeta":1}`, string(out))
}

func TestMarshalStable_NestedMapsSortRecursively(t *testing.T) {
	v := map[string]interface{}{
		"b": map[string]interface{}{"y": 2, "x": 1},
		"a": []interface{}{3, 1, 2},
	}
	out, err := MarshalStable(v)
	require.NoError(t, err)
	require.Equal(t, `{"a":[3,1,2],"b":{"x":1,"y":2}}`, string(out))
}

func TestHashStablePayload_IsDeterministicAndSensitiveToInputs(t *testing.T) {
	a := map[string]interface{}{"symbol": "AAPL", "qty": 5}
	b := map[string]interface{}{"qty": 5, "symbol": "AAPL"}
	c := map[string]interface{}{"qty": 6, "symbol": "AAPL"}

	hashA, err := HashStablePayload(a)
	require.NoError(t, err)
	hashB, err := HashStablePayload(b)
	require.NoError(t, err)
	hashC, err := HashStablePayload(c)
	require.NoError(t, err)

	require.Equal(t, hashA, hashB, "key order must not affect the hash")
	require.NotEqual(t, hashA, hashC, "changing an identifying field must change the hash")
}
