package render

// Influencer is the read-only view of an influencer row.
// FieldData keys are defined per tenant (name, followers, bio, ...).
type Influencer struct {
	ID        string         `json:"id"`
	AccountID string         `json:"accountId"`
	FieldData map[string]any `json:"fieldData"`
}

// User carries the sender/brand fields. Empty strings count as missing.
type User struct {
	BrandName  string `json:"brandName"`
	SenderName string `json:"senderName"`
	Email      string `json:"email"`
}

// Variables are user supplied values keyed by variable name.
// A value is either plain or an array of candidates (legacy shape).
type Variables map[string]any

// Context is everything one Render call reads.
type Context struct {
	Influencer *Influencer
	User       User
	Variables  Variables
	Rules      RuleSet
}

func (c Context) field(name string) any {
	if c.Influencer == nil || c.Influencer.FieldData == nil {
		return nil
	}
	return c.Influencer.FieldData[name]
}

func (c Context) accountID() string {
	if c.Influencer == nil {
		return ""
	}
	return c.Influencer.AccountID
}
