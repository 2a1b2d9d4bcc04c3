package presence

import (
	"context"

	"chatline/internal/app/dto"
	"chatline/internal/app/queries"
	domainpresence "chatline/internal/domain/presence"
)

const OnlineUsersKey = "presence.online"

type OnlineUsersQuery struct{}

func (OnlineUsersQuery) Key() string { return OnlineUsersKey }

// OnlineUsersHandler reads the persisted presence state, which includes users
// connected before this process started tracking them.
type OnlineUsersHandler struct {
	Store domainpresence.Store
}

func (h *OnlineUsersHandler) Handle(ctx context.Context, _ OnlineUsersQuery) ([]dto.OnlineUser, error) {
	entries, err := h.Store.Online(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]dto.OnlineUser, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.OnlineUser{UserID: string(e.UserID), Status: string(e.Status)})
	}
	return out, nil
}

var _ queries.Handler[OnlineUsersQuery, []dto.OnlineUser] = (*OnlineUsersHandler)(nil)
