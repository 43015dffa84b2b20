package services

import (
	"testing"
	"time"

	"halaqat_go/models"
	"halaqat_go/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinedBindsHalqaByName(t *testing.T) {
	w := testutil.NewWorld(t)
	m := NewLineGroupMatcher(w.DB)
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	lg, err := m.Joined("C100", "  حلقة   الفجر ", at)
	require.NoError(t, err)
	require.NotNil(t, lg.MatchedHalqaID)
	assert.Equal(t, w.Halqa.ID, *lg.MatchedHalqaID)

	var h models.Halqa
	require.NoError(t, w.DB.First(&h, w.Halqa.ID).Error)
	assert.Equal(t, "C100", h.LineGroupID)

	require.NoError(t, m.Left("C100", at.Add(time.Hour)))
	require.NoError(t, w.DB.First(&h, w.Halqa.ID).Error)
	assert.Empty(t, h.LineGroupID)
	var stored models.LineGroup
	require.NoError(t, w.DB.Where("group_id = ?", "C100").First(&stored).Error)
	assert.False(t, stored.IsActive)
	assert.Nil(t, stored.MatchedHalqaID)

	assert.Equal(t, "not_found", Kind(m.Left("C404", at)))
}

func TestAmbiguousGroupNameStaysUnbound(t *testing.T) {
	w := testutil.NewWorld(t)
	other := w.NewCenter(t, "مركز آخر")
	w.NewHalqa(t, other.ID, nil, "حلقة الفجر")
	m := NewLineGroupMatcher(w.DB)

	lg, err := m.Joined("C200", "حلقة الفجر", time.Now())
	require.NoError(t, err)
	assert.Nil(t, lg.MatchedHalqaID)
	assert.True(t, lg.IsActive)
}

func TestMatchAllPicksUpNewHalqa(t *testing.T) {
	w := testutil.NewWorld(t)
	m := NewLineGroupMatcher(w.DB)

	lg, err := m.Joined("C300", "حلقة العصر", time.Now())
	require.NoError(t, err)
	assert.Nil(t, lg.MatchedHalqaID)

	h := w.NewHalqa(t, w.Center.ID, nil, "حلقة العصر")
	require.NoError(t, m.MatchAll())

	var stored models.LineGroup
	require.NoError(t, w.DB.Where("group_id = ?", "C300").First(&stored).Error)
	require.NotNil(t, stored.MatchedHalqaID)
	assert.Equal(t, h.ID, *stored.MatchedHalqaID)
}
