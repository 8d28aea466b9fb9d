package executor

// userCardTypes lists every card_type a Planner can emit as a user-facing
// (non-resource) card, across every built-in source in engine/rules. The
// same handler name is shared across sources deliberately: dispatch by
// card_type alone is the point of the §4.8 redesign, and userCardHandler
// resolves the right derivation or streaming behavior from hc.Job.Source at
// call time.
var userCardTypes = []string{
	"profile", "activity", "repos", "role_model", "roast", "summary",
	"skills", "career", "money",
	"researcherInfo", "publicationStats", "paperOfYear", "representativePaper",
	"publicationInsight", "roleModel", "closestCollaborator", "estimatedSalary", "researcherCharacter", "criticalReview",
	"stats", "network", "papers",
}

// NewDefaultRegistry builds the Registry wiring every card_type the
// built-in rules.Engine plans can produce: the generic resource-node
// handler, the full_report aggregator, and the shared user-card handler.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("resource.*", resourceHandler)
	r.Register("full_report", fullReportHandler)
	for _, ct := range userCardTypes {
		r.Register(ct, userCardHandler)
	}
	return r
}
