package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRule_Resolve(t *testing.T) {
	rule := Rule{
		HasConditions: true,
		Conditions: []Condition{
			{Op: OpLess, Threshold: 10000, Result: "small"},
			{Op: OpGreaterEqual, Threshold: 10000, Result: "big"},
			{Op: OpGreaterEqual, Threshold: 40000, Result: "huge"},
		},
		Default: "none",
	}

	assert.Equal(t, "small", rule.Resolve(500))
	assert.Equal(t, "big", rule.Resolve(50000), "first match wins over a later, tighter match")

	noConds := Rule{Default: "fallback"}
	assert.Equal(t, "fallback", noConds.Resolve(1))

	emptyConds := Rule{HasConditions: true, Default: "d"}
	assert.Equal(t, "d", emptyConds.Resolve(1))
}

func TestParseRules(t *testing.T) {
	data := []byte(`{
		"팔로워수": {
			"conditions": [
				{"operator": "lt", "value": 10000, "result": "small"},
				{"operator": "range", "min": "10000", "max": 99999, "result": "mid"}
			],
			"defaultValue": "etc"
		},
		"followers": {
			"variables": {
				"tier": {
					"conditions": [{"operator": "greaterEqual", "min": 100000, "result": "mega"}],
					"defaultValue": "micro"
				}
			}
		},
		"broken": {},
		"notObject": "x",
		"skipped": null
	}`)

	rs, err := ParseRules(data)
	require.NoError(t, err)

	legacy, ok := rs.Lookup("팔로워수")
	require.True(t, ok)
	require.Len(t, legacy.Conditions, 2)
	assert.Equal(t, OpLess, legacy.Conditions[0].Op)
	assert.Equal(t, float64(10000), legacy.Conditions[0].Threshold)
	assert.Equal(t, OpRange, legacy.Conditions[1].Op)
	assert.Equal(t, float64(10000), legacy.Conditions[1].Min)
	assert.Equal(t, "etc", legacy.Default)

	_, ok = rs.Lookup("followers")
	assert.False(t, ok, "grouped entries are not legacy rules")

	g, ok := rs.Groups["followers"]
	require.True(t, ok)
	tier := g.Variables["tier"]
	require.Len(t, tier.Conditions, 1)
	assert.Equal(t, OpGreaterEqual, tier.Conditions[0].Op)
	assert.Equal(t, float64(100000), tier.Conditions[0].Threshold, "grouped dialect thresholds come from min")

	broken, ok := rs.Lookup("broken")
	require.True(t, ok)
	assert.False(t, broken.HasConditions)
	assert.Equal(t, "", broken.Resolve(5))

	notObject, ok := rs.Lookup("notObject")
	require.True(t, ok)
	assert.Equal(t, "", notObject.Resolve(5))

	_, ok = rs.Lookup("skipped")
	assert.False(t, ok)
}

func TestParseRules_EmptyAndInvalid(t *testing.T) {
	rs, err := ParseRules(nil)
	require.NoError(t, err)
	assert.True(t, rs.Empty())

	rs, err = ParseRules([]byte("null"))
	require.NoError(t, err)
	assert.True(t, rs.Empty())

	_, err = ParseRules([]byte("[1,2]"))
	assert.Error(t, err)

	_, err = ParseRules([]byte("{"))
	assert.Error(t, err)
}

func TestParseRules_CrossDialectOperatorsNeverMatch(t *testing.T) {
	rs, err := ParseRules([]byte(`{
		"등급": {"conditions": [{"operator": "greater", "value": 0, "result": "x"}], "defaultValue": "d"},
		"followers": {"variables": {"tier": {"conditions": [{"operator": "gt", "min": 0, "result": "x"}], "defaultValue": "d"}}}
	}`))
	require.NoError(t, err)

	legacy, _ := rs.Lookup("등급")
	assert.Equal(t, "d", legacy.Resolve(100))
	assert.Equal(t, "d", rs.Groups["followers"].Variables["tier"].Resolve(100))
}

func TestRule_SourceField(t *testing.T) {
	rs, err := ParseRules([]byte(`{
		"engagementTier": {
			"sourceField": "engagement",
			"conditions": [{"operator": "gte", "value": 5, "result": "high"}],
			"defaultValue": "low"
		}
	}`))
	require.NoError(t, err)

	rule, _ := rs.Lookup("engagementTier")
	c := Context{Influencer: &Influencer{FieldData: map[string]any{"engagement": 7.2, "followers": 1.0}}}
	assert.Equal(t, "high", rule.Resolve(rule.source(c)))

	c.Influencer.FieldData["engagement"] = "3"
	assert.Equal(t, "low", rule.Resolve(rule.source(c)))
}
