package notifications

import (
	"testing"

	"halaqat_go/access"
	"halaqat_go/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHub struct{ users []uint }

func (h *fakeHub) BroadcastToUser(userID uint, _ interface{}) { h.users = append(h.users, userID) }

type fakeLine struct{ to []string }

func (l *fakeLine) PushText(to, _ string) error {
	l.to = append(l.to, to)
	return nil
}

func TestEnqueueWithoutRedisWritesAndPushes(t *testing.T) {
	w := testutil.NewWorld(t)
	a := w.User(t, access.RoleTeacher, &w.Center.ID)
	b := w.User(t, access.RoleTeacher, &w.Center.ID)
	require.NoError(t, w.DB.Model(&a).Update("line_user_id", "U-a").Error)
	hub, line := &fakeHub{}, &fakeLine{}
	svc := NewService(w.DB, nil, hub, line)

	require.NoError(t, svc.EnqueueOrCreate([]uint{a.ID, b.ID}, New("تقرير", "لم يرسل التقرير", "warning", ChannelLine).From("report", 7)))
	assert.ElementsMatch(t, []uint{a.ID, b.ID}, hub.users)
	assert.Equal(t, []string{"U-a"}, line.to)

	require.NoError(t, svc.EnqueueOrCreate([]uint{b.ID}, New("مرحبا", "رسالة", "info")))
	assert.Len(t, line.to, 1, "normal channel never reaches LINE")

	require.NoError(t, svc.EnqueueOrCreate(nil, New("x", "y", "info")))

	list, total, err := svc.List(b.ID, Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, list, 2)
	assert.Equal(t, "report", list[1].SourceType)
}

func TestReadStateIsPerUser(t *testing.T) {
	w := testutil.NewWorld(t)
	a := w.User(t, access.RoleTeacher, &w.Center.ID)
	b := w.User(t, access.RoleTeacher, &w.Center.ID)
	svc := NewService(w.DB, nil, nil, nil)
	require.NoError(t, svc.EnqueueOrCreate([]uint{a.ID}, New("1", "m", "info")))
	require.NoError(t, svc.EnqueueOrCreate([]uint{a.ID}, New("2", "m", "info")))

	list, _, err := svc.List(a.ID, Filter{})
	require.NoError(t, err)
	require.Len(t, list, 2)

	ok, err := svc.MarkRead(b.ID, list[0].ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.MarkRead(a.ID, list[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	unread, err := svc.UnreadCount(a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, unread)

	read := false
	_, total, err := svc.List(a.ID, Filter{Read: &read})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	n, err := svc.MarkAllRead(a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ok, err = svc.Delete(a.ID, list[1].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	_, total, err = svc.List(a.ID, Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestNormalizeChannelsAlwaysKeepsNormal(t *testing.T) {
	assert.Equal(t, []string{ChannelNormal}, New("t", "m", "info", "sms").Channels)
	assert.Equal(t, []string{ChannelNormal, ChannelLine}, New("t", "m", "info", ChannelLine, ChannelLine).Channels)
}
