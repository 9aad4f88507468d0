package schema

import "github.com/samber/lo"

// Operation verbs. They double as validation phase names for create,
// update and patch, and as entries of EntityConfiguration.DisabledRoutes.
const (
	VerbCreate   = "create"
	VerbUpdate   = "update"
	VerbPatch    = "patch"
	VerbDelete   = "delete"
	VerbFindByID = "find_by_id"
	VerbFindAll  = "find_all"
)

// Verbs lists every operation verb in route order.
var Verbs = []string{VerbFindAll, VerbCreate, VerbFindByID, VerbUpdate, VerbPatch, VerbDelete}

// Authorization actions.
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionPatch  = "patch"
	ActionDelete = "delete"
	ActionList   = "list"
)

// BeforePhase returns the task phase run before verb, e.g. "before_create".
func BeforePhase(verb string) string {
	return "before_" + verb
}

// AfterPhase returns the task phase run after verb, e.g. "after_delete".
func AfterPhase(verb string) string {
	return "after_" + verb
}

// IsVerb reports whether s is a known operation verb.
func IsVerb(s string) bool {
	return lo.Contains(Verbs, s)
}
