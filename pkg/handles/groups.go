package handles

import (
	"log/slog"
	"reflect"
)

// Object groups and implicit references
//
// An object group is a set of handles whose objects live or die together.
// Groups are a per-collection structure: the embedder registers them before
// a full collection (typically from a GC prologue callback), the collector
// consumes them while marking, and EndTrace drops whatever is left.
//
// Groups can be built two ways. AddObjectGroup takes an explicit member list.
// SetObjectGroupId records (id, handle) connections which are turned into
// groups the next time the registry is read; the first handle registered
// under an id becomes the parent of that id's implicit references.

// RetainedObjectInfo is embedder metadata attached to an object group.
// Dispose is called exactly once, after the group has been judged live.
// IsEquivalent may be handed infos that were already disposed.
type RetainedObjectInfo interface {
	Dispose()
	IsEquivalent(other RetainedObjectInfo) bool
	GetHash() int64
	GetLabel() string
}

// GroupObserver is notified of every group judged live, before its info is
// disposed. info is nil for groups without metadata.
type GroupObserver interface {
	GroupRetained(info RetainedObjectInfo, members []Handle)
}

// ObjectGroup is a set of handles judged alive or dead together.
type ObjectGroup struct {
	Members []Handle
	Info    RetainedObjectInfo

	id    GroupID
	hasID bool
}

// ImplicitRefGroup records that Children are reachable whenever Parent is.
type ImplicitRefGroup struct {
	Parent   Handle
	Children []Handle

	id    GroupID
	hasID bool
}

type groupConnection struct {
	id     GroupID
	handle Handle
}

type groupRegistry struct {
	retainDeferred bool
	observer       GroupObserver

	objectGroups      []*ObjectGroup
	implicitRefGroups []*ImplicitRefGroup

	// Groups built from id-based registrations during this pass. Later
	// registrations under the same id extend the same group.
	groupsByID   map[GroupID]*ObjectGroup
	implicitByID map[GroupID]*ImplicitRefGroup

	// Pending id-based registrations, folded into the groups above by compute.
	// retainerInfos only holds infos whose id has no group yet.
	groupConnections       []groupConnection
	implicitConnections    []groupConnection
	retainerInfos          map[GroupID]RetainedObjectInfo
	retainerInfoOrder      []GroupID
	pendingImplicitParents map[GroupID]Handle
}

// AddObjectGroup registers an explicit group. An empty member list disposes
// info right away.
func (gh *GlobalHandles) AddObjectGroup(members []Handle, info RetainedObjectInfo) {
	if len(members) == 0 {
		if info != nil {
			info.Dispose()
		}
		return
	}
	group := &ObjectGroup{Members: make([]Handle, len(members)), Info: info}
	copy(group.Members, members)
	gh.objectGroups = append(gh.objectGroups, group)
}

// SetObjectGroupId adds h to the group identified by id.
func (gh *GlobalHandles) SetObjectGroupId(h Handle, id GroupID) {
	gh.node(h, "SetObjectGroupId")
	gh.groupConnections = append(gh.groupConnections, groupConnection{id: id, handle: h})
}

// SetRetainedObjectInfo attaches info to the group identified by id. A
// previously attached, different info is disposed.
func (gh *GlobalHandles) SetRetainedObjectInfo(id GroupID, info RetainedObjectInfo) {
	if group, ok := gh.groupsByID[id]; ok {
		replaceInfo(group.Info, info)
		group.Info = info
		return
	}
	if gh.retainerInfos == nil {
		gh.retainerInfos = make(map[GroupID]RetainedObjectInfo)
	}
	if prev, ok := gh.retainerInfos[id]; ok {
		replaceInfo(prev, info)
	} else {
		gh.retainerInfoOrder = append(gh.retainerInfoOrder, id)
	}
	gh.retainerInfos[id] = info
}

// replaceInfo disposes prev unless it is info itself.
func replaceInfo(prev, info RetainedObjectInfo) {
	if prev != nil && !sameInfo(prev, info) {
		prev.Dispose()
	}
}

// sameInfo reports whether a and b are the same info. Values of types that
// cannot be compared are never the same.
func sameInfo(a, b RetainedObjectInfo) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	t := reflect.TypeOf(a)
	if t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}
	return a == b
}

// SetReferenceFromGroup records that child is reachable whenever the group
// identified by id is.
func (gh *GlobalHandles) SetReferenceFromGroup(id GroupID, child Handle) {
	gh.node(child, "SetReferenceFromGroup")
	gh.implicitConnections = append(gh.implicitConnections, groupConnection{id: id, handle: child})
}

// AddImplicitReferences records that children are reachable whenever parent
// is.
func (gh *GlobalHandles) AddImplicitReferences(parent Handle, children []Handle) {
	gh.node(parent, "AddImplicitReferences")
	if len(children) == 0 {
		return
	}
	group := &ImplicitRefGroup{Parent: parent, Children: make([]Handle, len(children))}
	copy(group.Children, children)
	gh.implicitRefGroups = append(gh.implicitRefGroups, group)
}

// ObjectGroups returns the registered groups. The slice is owned by the table.
func (gh *GlobalHandles) ObjectGroups() []*ObjectGroup {
	gh.computeObjectGroupsAndImplicitReferences()
	return gh.objectGroups
}

// ImplicitRefGroups returns the registered implicit reference groups. The
// slice is owned by the table.
func (gh *GlobalHandles) ImplicitRefGroups() []*ImplicitRefGroup {
	gh.computeObjectGroupsAndImplicitReferences()
	return gh.implicitRefGroups
}

// IterateObjectGroups decides the liveness of every registered group.
// canSkip is called exactly once per member. A group whose members are all
// skippable is neither visited nor has its info disposed; any other group
// has all of its members visited and its info disposed. It returns whether
// any group was visited. Afterwards the registry is empty, unless the table
// retains deferred groups, in which case the skipped groups remain.
func (gh *GlobalHandles) IterateObjectGroups(v ObjectVisitor, canSkip func(Object) bool) bool {
	gh.computeObjectGroupsAndImplicitReferences()

	visited := false
	kept := gh.objectGroups[:0]
	for _, group := range gh.objectGroups {
		skippable := true
		for _, h := range group.Members {
			if !canSkip(h.node.object) {
				skippable = false
			}
		}
		if skippable && gh.retainDeferred {
			kept = append(kept, group)
			continue
		}
		if group.hasID {
			delete(gh.groupsByID, group.id)
		}
		if skippable {
			continue
		}

		buf := gh.buf[:0]
		for _, h := range group.Members {
			buf = append(buf, h.node.object)
		}
		v.VisitPointers(buf)
		gh.buf = buf[:0]
		visited = true

		if gh.observer != nil {
			gh.observer.GroupRetained(group.Info, group.Members)
		}
		if group.Info != nil {
			group.Info.Dispose()
			group.Info = nil
		}
	}
	for i := len(kept); i < len(gh.objectGroups); i++ {
		gh.objectGroups[i] = nil
	}
	gh.objectGroups = kept
	return visited
}

// PropagateImplicitReferences visits the children of every implicit
// reference group whose parent object is reachable and drops those groups.
// Groups with an unreachable parent are dropped too, unless the table
// retains deferred groups. It returns whether any children were visited;
// collectors call it until it returns false to get transitive reachability.
func (gh *GlobalHandles) PropagateImplicitReferences(isReachable func(Object) bool, v ObjectVisitor) bool {
	gh.computeObjectGroupsAndImplicitReferences()

	visited := false
	kept := gh.implicitRefGroups[:0]
	for _, group := range gh.implicitRefGroups {
		reachable := isReachable(group.Parent.node.object)
		if !reachable && gh.retainDeferred {
			kept = append(kept, group)
			continue
		}
		if group.hasID {
			delete(gh.implicitByID, group.id)
		}
		if !reachable {
			continue
		}
		buf := gh.buf[:0]
		for _, h := range group.Children {
			buf = append(buf, h.node.object)
		}
		v.VisitPointers(buf)
		gh.buf = buf[:0]
		visited = true
	}
	for i := len(kept); i < len(gh.implicitRefGroups); i++ {
		gh.implicitRefGroups[i] = nil
	}
	gh.implicitRefGroups = kept
	return visited
}

// RemoveObjectGroups drops all object groups and pending registrations
// without disposing the infos of groups. Infos registered under an id that
// never received a member can never be judged live and are disposed.
func (gh *GlobalHandles) RemoveObjectGroups() {
	for _, id := range gh.retainerInfoOrder {
		if info, ok := gh.retainerInfos[id]; ok {
			delete(gh.retainerInfos, id)
			if info != nil {
				gh.logger.Debug("disposing info of empty object group", slog.Uint64("group", uint64(id)))
				info.Dispose()
			}
		}
	}
	for i := range gh.objectGroups {
		gh.objectGroups[i] = nil
	}
	gh.objectGroups = gh.objectGroups[:0]
	gh.groupsByID = nil
	gh.groupConnections = gh.groupConnections[:0]
	gh.retainerInfos = nil
	gh.retainerInfoOrder = gh.retainerInfoOrder[:0]
}

// RemoveImplicitRefGroups drops all implicit reference groups and pending
// registrations.
func (gh *GlobalHandles) RemoveImplicitRefGroups() {
	for i := range gh.implicitRefGroups {
		gh.implicitRefGroups[i] = nil
	}
	gh.implicitRefGroups = gh.implicitRefGroups[:0]
	gh.implicitByID = nil
	gh.implicitConnections = gh.implicitConnections[:0]
	gh.pendingImplicitParents = nil
}

// computeObjectGroupsAndImplicitReferences folds id-based registrations
// into groups. Ids are ordered by first registration; an id folded earlier
// in the pass keeps extending its existing group.
func (gh *GlobalHandles) computeObjectGroupsAndImplicitReferences() {
	if len(gh.groupConnections) == 0 && len(gh.implicitConnections) == 0 {
		return
	}

	if gh.groupsByID == nil {
		gh.groupsByID = make(map[GroupID]*ObjectGroup)
	}
	// Parents must outlive a single compute: ids registered for the group in
	// one batch may receive references in a later one.
	if gh.pendingImplicitParents == nil {
		gh.pendingImplicitParents = make(map[GroupID]Handle)
	}
	for _, c := range gh.groupConnections {
		group, ok := gh.groupsByID[c.id]
		if !ok {
			group = &ObjectGroup{id: c.id, hasID: true}
			if info, ok := gh.retainerInfos[c.id]; ok {
				group.Info = info
				delete(gh.retainerInfos, c.id)
			}
			gh.groupsByID[c.id] = group
			gh.objectGroups = append(gh.objectGroups, group)
		}
		group.Members = append(group.Members, c.handle)
		if _, ok := gh.pendingImplicitParents[c.id]; !ok {
			gh.pendingImplicitParents[c.id] = c.handle
		}
	}

	if gh.implicitByID == nil {
		gh.implicitByID = make(map[GroupID]*ImplicitRefGroup)
	}
	dropped := 0
	for _, c := range gh.implicitConnections {
		group, ok := gh.implicitByID[c.id]
		if !ok {
			parent, hasParent := gh.pendingImplicitParents[c.id]
			if !hasParent {
				dropped++
				continue
			}
			group = &ImplicitRefGroup{Parent: parent, id: c.id, hasID: true}
			gh.implicitByID[c.id] = group
			gh.implicitRefGroups = append(gh.implicitRefGroups, group)
		}
		group.Children = append(group.Children, c.handle)
	}
	if dropped > 0 {
		gh.logger.Debug("implicit references from groups without members dropped", slog.Int("count", dropped))
	}

	gh.groupConnections = gh.groupConnections[:0]
	gh.implicitConnections = gh.implicitConnections[:0]
}
