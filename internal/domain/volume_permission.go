package domain

import "fmt"

// VolumeOperation is an action an actor requests on session volumes
type VolumeOperation string

const (
	OpCreate  VolumeOperation = "create"
	OpRead    VolumeOperation = "read"
	OpUpdate  VolumeOperation = "update"
	OpSubmit  VolumeOperation = "submit"
	OpView    VolumeOperation = "view"
	OpApprove VolumeOperation = "approve"
	OpReject  VolumeOperation = "reject"
	OpReopen  VolumeOperation = "reopen"
	OpDelete  VolumeOperation = "delete"
	OpRestore VolumeOperation = "restore"
	OpList    VolumeOperation = "list"
	OpExport  VolumeOperation = "export"
)

// relation is the link an actor must have to the record
type relation int

const (
	relNone relation = iota
	relAny
	relTrainer
	relCustomer
)

// volumePermissions is the single role table. A missing entry denies.
var volumePermissions = map[Role]map[VolumeOperation]relation{
	RoleAdmin: {
		OpCreate: relAny, OpRead: relAny, OpUpdate: relAny, OpSubmit: relAny,
		OpView: relAny, OpApprove: relAny, OpReject: relAny, OpReopen: relAny,
		OpDelete: relAny, OpRestore: relAny, OpList: relAny, OpExport: relAny,
	},
	RoleTrainer: {
		OpCreate: relTrainer, OpRead: relTrainer, OpUpdate: relTrainer,
		OpSubmit: relTrainer, OpReopen: relTrainer, OpList: relTrainer, OpExport: relTrainer,
	},
	RoleCustomer: {
		OpRead: relCustomer, OpView: relCustomer, OpApprove: relCustomer,
		OpReject: relCustomer, OpList: relCustomer,
	},
}

// eventOperations maps lifecycle events to the operation they require
var eventOperations = map[VolumeEvent]VolumeOperation{
	EventSubmit:  OpSubmit,
	EventView:    OpView,
	EventApprove: OpApprove,
	EventReject:  OpReject,
	EventReopen:  OpReopen,
}

// OperationForEvent returns the operation guarding ev
func OperationForEvent(ev VolumeEvent) VolumeOperation {
	return eventOperations[ev]
}

// AuthorizeVolume decides whether actor may perform op on v. For create, v is
// the proposed record. Returns nil or an error wrapping ErrNotAuthorized.
func AuthorizeVolume(actor Actor, op VolumeOperation, v *SessionVolume) error {
	rel := volumePermissions[actor.Role][op]
	switch rel {
	case relAny:
		return nil
	case relTrainer:
		if v != nil && v.TrainerID == actor.ID {
			return nil
		}
		return fmt.Errorf("%w: only the volume's trainer may %s it", ErrNotAuthorized, op)
	case relCustomer:
		if v != nil && v.CustomerID == actor.ID {
			return nil
		}
		return fmt.Errorf("%w: only the volume's customer may %s it", ErrNotAuthorized, op)
	}
	return fmt.Errorf("%w: role %q may not %s session volumes", ErrNotAuthorized, actor.Role, op)
}

// ScopeVolumeFilter restricts a query to the records actor may see. Trainers
// and customers are pinned to their own id regardless of what they asked for.
func ScopeVolumeFilter(actor Actor, f VolumeFilter) (VolumeFilter, error) {
	switch actor.Role {
	case RoleAdmin:
		return f, nil
	case RoleTrainer:
		id := actor.ID
		f.TrainerID = &id
		return f, nil
	case RoleCustomer:
		id := actor.ID
		f.CustomerID = &id
		return f, nil
	}
	return f, fmt.Errorf("%w: role %q may not list session volumes", ErrNotAuthorized, actor.Role)
}

// AllowedVolumeEvents lists the events actor could apply to v right now
func AllowedVolumeEvents(actor Actor, v *SessionVolume) []VolumeEvent {
	var events []VolumeEvent
	for _, ev := range AllVolumeEvents {
		if _, ok := VolumeTransitionFor(v.Status, ev); !ok {
			continue
		}
		if AuthorizeVolume(actor, OperationForEvent(ev), v) != nil {
			continue
		}
		events = append(events, ev)
	}
	return events
}

// AuthorizeScope checks that actor's role may perform op on at least its own
// records. Queries that span records use it together with ScopeVolumeFilter.
func AuthorizeScope(actor Actor, op VolumeOperation) error {
	if volumePermissions[actor.Role][op] == relNone {
		return fmt.Errorf("%w: role %q may not %s session volumes", ErrNotAuthorized, actor.Role, op)
	}
	return nil
}
