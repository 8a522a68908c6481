// internal/graph/refs.go
package graph

import "github-fork-graph/internal/model"

// OwnerRef references an Owner node by login.
func OwnerRef(login string) NodeRef {
	return NodeRef{Label: model.LabelOwner, Key: "login", Value: login}
}

// RepositoryRef references a Repository node by its remote id.
func RepositoryRef(id string) NodeRef {
	return NodeRef{Label: model.LabelRepository, Key: "id", Value: id}
}
