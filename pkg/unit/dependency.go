package unit

// Dependency identifies a dependency kind between two units. Kinds come in
// symmetric-complementary pairs (Requires/RequiredBy etc.); the inverse edge
// is maintained by the external dependency graph, not by this package.
type Dependency string

const (
	DepRequires             Dependency = "Requires"
	DepRequisite            Dependency = "Requisite"
	DepWants                Dependency = "Wants"
	DepBindsTo              Dependency = "BindsTo"
	DepPartOf               Dependency = "PartOf"
	DepRequiredBy           Dependency = "RequiredBy"
	DepRequisiteOf          Dependency = "RequisiteOf"
	DepWantedBy             Dependency = "WantedBy"
	DepBoundBy              Dependency = "BoundBy"
	DepConsistsOf           Dependency = "ConsistsOf"
	DepConflicts            Dependency = "Conflicts"
	DepConflictedBy         Dependency = "ConflictedBy"
	DepBefore               Dependency = "Before"
	DepAfter                Dependency = "After"
	DepOnFailure            Dependency = "OnFailure"
	DepTriggers             Dependency = "Triggers"
	DepTriggeredBy          Dependency = "TriggeredBy"
	DepPropagatesReloadTo   Dependency = "PropagatesReloadTo"
	DepReloadPropagatedFrom Dependency = "ReloadPropagatedFrom"
	DepJoinsNamespaceOf     Dependency = "JoinsNamespaceOf"
	DepReferences           Dependency = "References"
	DepReferencedBy         Dependency = "ReferencedBy"
)

// Dependencies lists all kinds in the order they are reported on the
// property surface.
var Dependencies = []Dependency{
	DepRequires, DepRequisite, DepWants, DepBindsTo, DepPartOf,
	DepRequiredBy, DepRequisiteOf, DepWantedBy, DepBoundBy, DepConsistsOf,
	DepConflicts, DepConflictedBy, DepBefore, DepAfter, DepOnFailure,
	DepTriggers, DepTriggeredBy, DepPropagatesReloadTo,
	DepReloadPropagatedFrom, DepJoinsNamespaceOf, DepReferences,
	DepReferencedBy,
}

var dependencySet = func() map[Dependency]struct{} {
	m := make(map[Dependency]struct{}, len(Dependencies))
	for _, d := range Dependencies {
		m[d] = struct{}{}
	}
	return m
}()

// ParseDependency resolves a dependency kind name. Obsolete "*Overridable"
// names are redirected to their current kinds for compatibility.
func ParseDependency(name string) (Dependency, bool) {
	switch name {
	case "RequiresOverridable":
		return DepRequires, true
	case "RequisiteOverridable":
		return DepRequisite, true
	}
	d := Dependency(name)
	_, ok := dependencySet[d]
	return d, ok
}
