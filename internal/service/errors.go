package service

import (
	"errors"
	"fmt"
)

// Base error classes. Handlers map these to transport status codes.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("resource not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
)

var (
	ErrEmptyContent           = fmt.Errorf("%w: message content or attachment is required", ErrValidation)
	ErrAmbiguousTarget        = fmt.Errorf("%w: exactly one of receiver_id or group_id is required", ErrValidation)
	ErrInvalidEmoji           = fmt.Errorf("%w: emoji is not supported", ErrValidation)
	ErrInvalidRole            = fmt.Errorf("%w: unknown group role", ErrValidation)
	ErrInviteExpired          = fmt.Errorf("%w: invite code expired", ErrValidation)
	ErrMessageDeleted         = fmt.Errorf("%w: message was deleted", ErrValidation)
	ErrMessageNotFound        = fmt.Errorf("%w: message not found", ErrNotFound)
	ErrGroupNotFound          = fmt.Errorf("%w: group not found", ErrNotFound)
	ErrNotAMember             = fmt.Errorf("%w: not a member of this group", ErrForbidden)
	ErrInsufficientPermission = fmt.Errorf("%w: insufficient group permission", ErrForbidden)
	ErrNotOwner               = fmt.Errorf("%w: only the sender may modify this message", ErrForbidden)
	ErrNotGroupCreator        = fmt.Errorf("%w: only the group creator may delete it", ErrForbidden)
	ErrNotParticipant         = fmt.Errorf("%w: not a participant of this conversation", ErrForbidden)
	ErrLastAdmin              = fmt.Errorf("%w: group must keep at least one admin", ErrConflict)
	ErrAlreadyMember          = fmt.Errorf("%w: user is already a member", ErrConflict)
	ErrGroupArchived          = fmt.Errorf("%w: group is archived", ErrConflict)
	ErrInviteCodeExhausted    = errors.New("could not allocate a unique invite code")
)

var (
	ErrReplyTargetMismatch = fmt.Errorf("%w: reply must stay in the parent's conversation", ErrValidation)
	ErrInviteNotFound      = fmt.Errorf("%w: invite code not found", ErrNotFound)
	ErrUnknownEvent        = fmt.Errorf("%w: unknown realtime event", ErrValidation)
	ErrInvalidPayload      = fmt.Errorf("%w: malformed payload", ErrValidation)
)
