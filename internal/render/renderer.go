package render

import (
	"regexp"
	"sort"
	"strings"
)

// Fixed placeholder names.
const (
	VarInfluencerName = "인플루언서이름"
	VarAccountID      = "계정ID"
	VarFollowers      = "팔로워수"
	VarAccountIDAlias = "accountId"
	VarBrandName      = "브랜드명"
	VarSenderName     = "발신자이름"
)

// Literal fallbacks used when no context value is available.
const (
	FallbackInfluencerName = "인플루언서"
	FallbackBrandName      = "브랜드"
	FallbackSenderName     = "발신자"
	FallbackFollowers      = "0"
)

type fixedVariable struct {
	name  string
	value func(c Context, f *Formatter) string
}

var influencerVariables = []fixedVariable{
	{VarInfluencerName, func(c Context, _ *Formatter) string {
		return firstNonEmpty(stringify(c.field("name")), c.accountID(), FallbackInfluencerName)
	}},
	{VarAccountID, func(c Context, _ *Formatter) string { return c.accountID() }},
	{VarFollowers, func(c Context, f *Formatter) string {
		return firstNonEmpty(f.Format(c.field(DefaultSourceField)), FallbackFollowers)
	}},
	{VarAccountIDAlias, func(c Context, _ *Formatter) string { return c.accountID() }},
}

var fixedNames = func() map[string]struct{} {
	m := make(map[string]struct{}, len(influencerVariables))
	for _, v := range influencerVariables {
		m[v.name] = struct{}{}
	}
	return m
}()

var userNames = map[string]bool{VarBrandName: true, VarSenderName: true}

// Renderer resolves {{name}} placeholders. It holds no per-call state and
// may be shared across goroutines.
type Renderer struct {
	f *Formatter
}

func New(f *Formatter) *Renderer {
	if f == nil {
		f = NewFormatter(DefaultLocale)
	}
	return &Renderer{f: f}
}

// Render substitutes every known placeholder in text. Placeholders with no
// value source are left as they are. Empty text is returned unchanged.
func (r *Renderer) Render(text string, c Context) string {
	if text == "" {
		return text
	}
	text = r.influencerFixed(text, c)
	text = r.influencerFields(text, c)
	text = r.groupedRules(text, c)
	text = r.customVariables(text, c)
	text = r.userFields(text, c)
	return text
}

func (r *Renderer) influencerFixed(text string, c Context) string {
	for _, v := range influencerVariables {
		val := v.value(c, r.f)
		if rule, ok := c.Rules.Lookup(v.name); ok {
			val = rule.Resolve(rule.source(c))
		}
		text = replace(text, v.name, val)
	}
	return text
}

func (r *Renderer) influencerFields(text string, c Context) string {
	if c.Influencer == nil {
		return text
	}
	for _, key := range sortedKeys(c.Influencer.FieldData) {
		if _, fixed := fixedNames[key]; fixed {
			continue
		}
		var val string
		if rule, ok := c.Rules.Lookup(key); ok {
			val = rule.Resolve(rule.source(c))
		} else {
			val = r.f.Format(c.Influencer.FieldData[key])
		}
		text = replace(text, key, val)
	}
	return text
}

func (r *Renderer) groupedRules(text string, c Context) string {
	for _, key := range sortedKeys(c.Rules.Groups) {
		g := c.Rules.Groups[key]
		source := ToFloat(c.field(g.SourceField))
		for _, name := range sortedKeys(g.Variables) {
			text = replace(text, name, g.Variables[name].Resolve(source))
		}
	}
	return text
}

func (r *Renderer) customVariables(text string, c Context) string {
	for _, key := range sortedKeys(c.Variables) {
		var val string
		if rule, ok := c.Rules.Lookup(key); ok {
			val = rule.Resolve(rule.source(c))
		} else {
			val = r.customValue(c.Variables[key])
		}
		text = replace(text, key, val)
	}
	// Variables that exist only as a legacy rule. Brand and sender names
	// always come from the user.
	for _, key := range sortedKeys(c.Rules.Legacy) {
		if _, ok := c.Variables[key]; ok || userNames[key] {
			continue
		}
		rule := c.Rules.Legacy[key]
		text = replace(text, key, rule.Resolve(rule.source(c)))
	}
	return text
}

// customValue takes the first candidate of an array value, or the value
// itself when it is scalar.
func (r *Renderer) customValue(v any) string {
	switch x := v.(type) {
	case []any:
		if len(x) == 0 {
			return ""
		}
		return r.f.Format(x[0])
	case []string:
		if len(x) == 0 {
			return ""
		}
		return x[0]
	}
	return r.f.Format(v)
}

func (r *Renderer) userFields(text string, c Context) string {
	text = replace(text, VarBrandName, firstNonEmpty(c.User.BrandName, c.User.Email, FallbackBrandName))
	text = replace(text, VarSenderName, firstNonEmpty(c.User.SenderName, c.User.Email, FallbackSenderName))
	return text
}

func replace(text, name, val string) string {
	return strings.ReplaceAll(text, "{{"+name+"}}", val)
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Placeholders lists the distinct placeholder names in text in order of
// first appearance. Names are not trimmed.
func Placeholders(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}
