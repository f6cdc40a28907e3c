package fga

import "slices"

// Rewrite describes how a relation is satisfied, mirroring the OpenFGA DSL:
// direct assignment, "or <relation>" and "<relation> from <tupleset>".
type Rewrite struct {
	Direct         bool
	Computed       []string
	TupleToUserset []TupleToUserset
}

// TupleToUserset is "<Computed> from <Tupleset>".
type TupleToUserset struct {
	Tupleset string
	Computed string
}

// Model maps object type -> relation -> rewrite.
type Model map[string]map[string]Rewrite

// Roles are the membership relations a principal can hold on a partner,
// strongest first. Role relations are disjoint; the computed manager and
// viewer relations carry the implication between them.
var Roles = []string{RelationCanAdmin, RelationCanManageMembers, RelationCanView}

// IsRole reports whether relation is an assignable partner role.
func IsRole(relation string) bool {
	return slices.Contains(Roles, relation)
}

// ResourceTypes are the partner-owned object types.
var ResourceTypes = []string{TypeClient, TypeDocument, TypeSKU, TypeSong, TypeGame}

func childResource() map[string]Rewrite {
	return map[string]Rewrite{
		RelationParent:  {Direct: true},
		RelationCanView: {TupleToUserset: []TupleToUserset{{Tupleset: RelationParent, Computed: RelationViewer}}},
		RelationCanEdit: {TupleToUserset: []TupleToUserset{{Tupleset: RelationParent, Computed: RelationCanAdmin}}},
	}
}

// PortalModel mirrors the authorization model deployed to the FGA store.
// The store is authoritative; this copy drives the in-memory client.
var PortalModel = func() Model {
	m := Model{
		TypeUser: {},
		TypePlatform: {
			RelationSuperAdmin: {Direct: true},
		},
		TypePartner: {
			RelationCanAdmin:         {Direct: true},
			RelationCanManageMembers: {Direct: true},
			RelationCanView:          {Direct: true},
			RelationManager:          {Computed: []string{RelationCanManageMembers, RelationCanAdmin}},
			RelationViewer:           {Computed: []string{RelationCanView, RelationManager}},
		},
	}
	for _, t := range ResourceTypes {
		m[t] = childResource()
	}
	m[TypeSKU][RelationSupplier] = Rewrite{Direct: true}
	m[TypeSKU][RelationCanView] = Rewrite{TupleToUserset: []TupleToUserset{
		{Tupleset: RelationParent, Computed: RelationViewer},
		{Tupleset: RelationSupplier, Computed: RelationViewer},
	}}
	return m
}()

// HasRelation reports whether the model defines relation on objectType.
func (m Model) HasRelation(objectType, relation string) bool {
	rels, ok := m[objectType]
	if !ok {
		return false
	}
	_, ok = rels[relation]
	return ok
}
