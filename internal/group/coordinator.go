// Package group coordinates group membership: creation, invite-code joins,
// info updates, leaving with deterministic admin transfer, and deletion of
// emptied groups. Every mutation is a single atomic commit against the remote
// store.
package group

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MuradAles/OrangeAI-sub003/internal/cache"
	"github.com/MuradAles/OrangeAI-sub003/internal/docstore"
	"github.com/MuradAles/OrangeAI-sub003/internal/model"
)

var (
	ErrNameRequired   = errors.New("group name is required")
	ErrNoMembers      = errors.New("group needs at least one member")
	ErrChatNotFound   = errors.New("chat does not exist")
	ErrNotGroup       = errors.New("chat is not a group")
	ErrInviteNotFound = errors.New("invite code does not match any group")
	ErrAlreadyMember  = errors.New("user is already a member")
	ErrNotMember      = errors.New("user is not a member")
)

// Coordinator executes membership operations against the remote store and
// mirrors results into the local cache.
type Coordinator struct {
	logger *zap.SugaredLogger
	remote docstore.Store
	local  *cache.Cache
	now    func() time.Time
}

func NewCoordinator(logger *zap.SugaredLogger, remote docstore.Store, local *cache.Cache) *Coordinator {
	return &Coordinator{
		logger: logger,
		remote: remote,
		local:  local,
		now:    time.Now,
	}
}

// CreateGroup commits the chat document and one participant record per unique
// member in a single batch. The creator becomes admin; a duplicate creator id
// in memberIDs collapses under set semantics.
func (co *Coordinator) CreateGroup(ctx context.Context, name, description, icon, creatorID string, memberIDs []string) (string, error) {
	if name == "" {
		return "", ErrNameRequired
	}
	if len(memberIDs) == 0 {
		return "", ErrNoMembers
	}

	participants := []string{creatorID}
	seen := map[string]bool{creatorID: true}
	for _, id := range memberIDs {
		if !seen[id] {
			seen[id] = true
			participants = append(participants, id)
		}
	}

	code, err := co.freshInviteCode(ctx)
	if err != nil {
		return "", err
	}

	now := co.now()
	chat := model.Chat{
		ID:               uuid.NewString(),
		Type:             model.ChatGroup,
		Participants:     participants,
		CreatedAt:        now,
		CreatedBy:        creatorID,
		GroupName:        name,
		GroupDescription: description,
		GroupIcon:        icon,
		GroupAdminID:     creatorID,
		InviteCode:       code,
		UpdatedAt:        now,
	}

	writes := []docstore.Write{
		{Path: model.ChatPath(chat.ID), Op: docstore.OpSet, Fields: chat.Fields()},
	}
	for _, userID := range participants {
		role := model.RoleMember
		if userID == creatorID {
			role = model.RoleAdmin
		}
		p := model.Participant{ChatID: chat.ID, UserID: userID, Role: role, JoinedAt: now}
		writes = append(writes, docstore.Write{
			Path:   model.ParticipantPath(chat.ID, userID),
			Op:     docstore.OpSet,
			Fields: p.Fields(),
		})
	}

	if err := co.remote.Commit(ctx, writes); err != nil {
		return "", fmt.Errorf("creating group %q: %w", name, err)
	}

	if err := co.local.UpsertChat(chat, 0); err != nil {
		co.logger.Errorf("mirroring group %s to local cache: %v", chat.ID, err)
	}

	co.logger.Debugf("Created group %s (%q) with %d participants", chat.ID, name, len(participants))

	return chat.ID, nil
}

// UpdateGroupInfo merges only the supplied fields plus updatedAt. Membership
// is untouched.
func (co *Coordinator) UpdateGroupInfo(ctx context.Context, chatID string, name, description, icon *string) error {
	chat, err := co.groupChat(ctx, chatID)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{"updatedAt": model.EncodeTime(co.now())}
	if name != nil {
		if *name == "" {
			return ErrNameRequired
		}
		fields["groupName"] = *name
	}
	if description != nil {
		fields["groupDescription"] = *description
	}
	if icon != nil {
		fields["groupIcon"] = *icon
	}

	err = co.remote.Commit(ctx, []docstore.Write{
		{Path: model.ChatPath(chatID), Op: docstore.OpMerge, Fields: fields},
	})
	if err != nil {
		return fmt.Errorf("updating info of group %s: %w", chatID, err)
	}

	if name != nil {
		chat.GroupName = *name
	}
	if description != nil {
		chat.GroupDescription = *description
	}
	if icon != nil {
		chat.GroupIcon = *icon
	}
	co.mirrorChat(chat)

	return nil
}

// AddMember appends the user to the group. Adding an existing member returns
// nil without performing any write.
func (co *Coordinator) AddMember(ctx context.Context, chatID, userID string) error {
	chat, err := co.groupChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.HasParticipant(userID) {
		return nil
	}
	return co.addMember(ctx, chat, userID)
}

func (co *Coordinator) addMember(ctx context.Context, chat model.Chat, userID string) error {
	p := model.Participant{
		ChatID:   chat.ID,
		UserID:   userID,
		Role:     model.RoleMember,
		JoinedAt: co.now(),
	}

	err := co.remote.Commit(ctx, []docstore.Write{
		{Path: model.ParticipantPath(chat.ID, userID), Op: docstore.OpSet, Fields: p.Fields()},
		{Path: model.ChatPath(chat.ID), Op: docstore.OpMerge,
			Transforms: []docstore.Transform{docstore.Union("participants", userID)}},
	})
	if err != nil {
		return fmt.Errorf("adding %s to group %s: %w", userID, chat.ID, err)
	}

	chat.Participants = append(chat.Participants, userID)
	co.mirrorChat(chat)

	co.logger.Debugf("Added %s to group %s", userID, chat.ID)

	return nil
}

// LeaveGroup removes the user and, in the same commit, transfers admin to a
// deterministic successor or deletes the emptied chat. The successor is the
// remaining participant with the earliest joinedAt; exact ties go to the
// lexicographically smallest userId.
func (co *Coordinator) LeaveGroup(ctx context.Context, chatID, userID string) error {
	chat, err := co.groupChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(userID) {
		return ErrNotMember
	}

	participants, err := co.GetGroupParticipants(ctx, chatID)
	if err != nil {
		return err
	}

	var remaining []model.Participant
	for _, p := range participants {
		if p.UserID != userID {
			remaining = append(remaining, p)
		}
	}

	// Last member out deletes the chat and every straggling participant doc.
	if len(remaining) == 0 {
		writes := []docstore.Write{
			{Path: model.ChatPath(chatID), Op: docstore.OpDelete},
		}
		for _, p := range participants {
			writes = append(writes, docstore.Write{
				Path: model.ParticipantPath(chatID, p.UserID), Op: docstore.OpDelete,
			})
		}
		if err := co.remote.Commit(ctx, writes); err != nil {
			return fmt.Errorf("deleting emptied group %s: %w", chatID, err)
		}
		if err := co.local.DeleteChat(chatID); err != nil {
			co.logger.Errorf("dropping group %s from local cache: %v", chatID, err)
		}
		co.logger.Debugf("Deleted group %s after last member %s left", chatID, userID)
		return nil
	}

	chatWrite := docstore.Write{
		Path: model.ChatPath(chatID), Op: docstore.OpMerge,
		Transforms: []docstore.Transform{docstore.Remove("participants", userID)},
	}
	writes := []docstore.Write{
		{Path: model.ParticipantPath(chatID, userID), Op: docstore.OpDelete},
	}

	if chat.GroupAdminID == userID {
		successor := electAdmin(remaining)
		chatWrite.Fields = map[string]interface{}{"groupAdminId": successor.UserID}
		writes = append(writes,
			docstore.Write{Path: model.ParticipantPath(chatID, successor.UserID), Op: docstore.OpMerge,
				Fields: map[string]interface{}{"role": model.RoleAdmin}},
		)
		chat.GroupAdminID = successor.UserID
		co.logger.Debugf("Transferring admin of group %s from %s to %s", chatID, userID, successor.UserID)
	}
	writes = append(writes, chatWrite)

	if err := co.remote.Commit(ctx, writes); err != nil {
		return fmt.Errorf("removing %s from group %s: %w", userID, chatID, err)
	}

	kept := chat.Participants[:0]
	for _, p := range chat.Participants {
		if p != userID {
			kept = append(kept, p)
		}
	}
	chat.Participants = kept
	co.mirrorChat(chat)

	return nil
}

// electAdmin picks the admin successor: earliest joinedAt, ties broken by
// userId lexical order. The tie-break is part of the contract so every device
// converges on the same winner.
func electAdmin(participants []model.Participant) model.Participant {
	best := participants[0]
	for _, p := range participants[1:] {
		if p.JoinedAt.Before(best.JoinedAt) ||
			(p.JoinedAt.Equal(best.JoinedAt) && p.UserID < best.UserID) {
			best = p
		}
	}
	return best
}

// JoinGroupByInviteCode resolves the code to a group and adds the user.
// Unknown codes fail with ErrInviteNotFound; joining a group you are already
// in fails with ErrAlreadyMember so callers can tell the two apart.
func (co *Coordinator) JoinGroupByInviteCode(ctx context.Context, code, userID string) (string, error) {
	docs, err := co.remote.Query(ctx, model.ChatsCollection,
		docstore.Filter{Field: "type", Op: docstore.FilterEq, Value: model.ChatGroup},
		docstore.Filter{Field: "inviteCode", Op: docstore.FilterEq, Value: code},
	)
	if err != nil {
		return "", fmt.Errorf("resolving invite code: %w", err)
	}
	if len(docs) == 0 {
		return "", ErrInviteNotFound
	}

	chat := model.ChatFromFields(docs[0].Path.ID, docs[0].Fields)
	if chat.HasParticipant(userID) {
		return "", fmt.Errorf("%w: %s in group %s", ErrAlreadyMember, userID, chat.ID)
	}

	if err := co.addMember(ctx, chat, userID); err != nil {
		return "", err
	}

	return chat.ID, nil
}

// RegenerateInviteCode replaces the group's code; the old one stops working
// the moment the commit lands.
func (co *Coordinator) RegenerateInviteCode(ctx context.Context, chatID string) (string, error) {
	chat, err := co.groupChat(ctx, chatID)
	if err != nil {
		return "", err
	}

	code, err := co.freshInviteCode(ctx)
	if err != nil {
		return "", err
	}

	err = co.remote.Commit(ctx, []docstore.Write{
		{Path: model.ChatPath(chatID), Op: docstore.OpMerge, Fields: map[string]interface{}{
			"inviteCode": code,
			"updatedAt":  model.EncodeTime(co.now()),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("regenerating invite code of group %s: %w", chatID, err)
	}

	chat.InviteCode = code
	co.mirrorChat(chat)

	return code, nil
}

// GetGroupParticipants returns the group's participant records in a stable
// order: admins first, then by joinedAt ascending, then by userId.
func (co *Coordinator) GetGroupParticipants(ctx context.Context, chatID string) ([]model.Participant, error) {
	docs, err := co.remote.Query(ctx, model.ParticipantsCollection(chatID))
	if err != nil {
		return nil, fmt.Errorf("listing participants of %s: %w", chatID, err)
	}

	participants := make([]model.Participant, 0, len(docs))
	for _, doc := range docs {
		participants = append(participants, model.ParticipantFromFields(chatID, doc.Path.ID, doc.Fields))
	}

	sort.Slice(participants, func(i, j int) bool {
		a, b := participants[i], participants[j]
		if a.Role != b.Role {
			return a.Role == model.RoleAdmin
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.UserID < b.UserID
	})

	return participants, nil
}

func (co *Coordinator) groupChat(ctx context.Context, chatID string) (model.Chat, error) {
	doc, err := co.remote.Get(ctx, model.ChatPath(chatID))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return model.Chat{}, ErrChatNotFound
		}
		return model.Chat{}, err
	}

	chat := model.ChatFromFields(chatID, doc.Fields)
	if chat.Type != model.ChatGroup {
		return model.Chat{}, ErrNotGroup
	}
	return chat, nil
}

func (co *Coordinator) mirrorChat(chat model.Chat) {
	unread := 0
	if cached, err := co.local.ScrollPosition(chat.ID); err == nil {
		unread = cached.UnreadCount
	}
	if err := co.local.UpsertChat(chat, unread); err != nil {
		co.logger.Errorf("mirroring chat %s to local cache: %v", chat.ID, err)
	}
}

// freshInviteCode draws codes until one is unused by any chat, giving up after
// a handful of attempts and accepting the residual collision risk.
func (co *Coordinator) freshInviteCode(ctx context.Context) (string, error) {
	var code string
	for attempt := 0; attempt < 5; attempt++ {
		var err error
		code, err = newInviteCode()
		if err != nil {
			return "", err
		}
		docs, err := co.remote.Query(ctx, model.ChatsCollection,
			docstore.Filter{Field: "inviteCode", Op: docstore.FilterEq, Value: code})
		if err != nil {
			return "", fmt.Errorf("checking invite code uniqueness: %w", err)
		}
		if len(docs) == 0 {
			return code, nil
		}
	}
	return code, nil
}
