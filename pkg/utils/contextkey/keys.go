package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID    key = "trace_id"
	CampaignID key = "campaign_id"
	Target     key = "target"
	Backend    key = "backend"
)
