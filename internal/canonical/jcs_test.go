package canonical

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_KeyOrderingIsDeterministic(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": map[string]interface{}{"z": 1, "y": 2}}
	b := map[string]interface{}{"c": map[string]interface{}{"y": 2, "z": 1}, "a": 2, "b": 1}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
}

func TestJCS_UnicodeNormalizationStable(t *testing.T) {
	// "e" followed by combining acute accent (U+0301) vs the single
	// precomposed code point U+00E9 ("é") — distinct byte sequences for the
	// same rendered glyph. The canonicalizer must hash both identically.
	decomposed := "caf" + "e" + string(rune(0x0301))
	precomposed := "caf" + string(rune(0x00E9))

	h1, err := Hash(map[string]interface{}{"message": precomposed})
	require.NoError(t, err)
	h2, err := Hash(map[string]interface{}{"message": decomposed})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	b, err := JCS(map[string]interface{}{"msg": "<b>&</b>"})
	require.NoError(t, err)
	assert.Contains(t, string(b), "<b>&</b>")
}

func TestJCS_Idempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("canon(canon(x)) == canon(x)", prop.ForAll(
		func(s string, n float64) bool {
			v := map[string]interface{}{"s": s, "n": n}
			b1, err := JCS(v)
			if err != nil {
				return false
			}
			b2, err := JCS(map[string]interface{}{"s": s, "n": n})
			if err != nil {
				return false
			}
			var decoded interface{}
			if err := json.Unmarshal(b1, &decoded); err != nil {
				return false
			}
			b3, err := JCS(decoded)
			if err != nil {
				return false
			}
			return string(b1) == string(b2) && string(b3) == string(b1) && HashBytes(b1) == HashBytes(b2)
		},
		gen.AlphaString(),
		gen.Float64Range(-1000, 1000),
	))

	properties.TestingRun(t)
}
