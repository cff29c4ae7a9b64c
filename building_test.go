package hamlet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamletgame/hamlet/internal/apierror"
	"github.com/hamletgame/hamlet/model"
)

func TestBuildUpgradePayload_Validate(t *testing.T) {
	tests := []struct {
		name         string
		buildingType string
		wantErr      bool
	}{
		{name: "simple", buildingType: "barracks"},
		{name: "underscore", buildingType: "main_building"},
		{name: "empty", buildingType: "", wantErr: true},
		{name: "uppercase", buildingType: "Barracks", wantErr: true},
		{name: "leading digit", buildingType: "1farm", wantErr: true},
		{name: "too long", buildingType: "abcdefghijklmnopqrstuvwxyzabcdefg", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := BuildUpgradePayload{BuildingType: tt.buildingType}.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStartBuildingUpgrade(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)

	action, err := env.hamlet.StartBuildingUpgrade(ctx, v.VillageID, "farm")
	require.NoError(t, err)
	assert.Equal(t, ActionTypeBuildUpgrade, action.Type)
	assert.Equal(t, model.ActionStatusPending, action.Status)
	assert.Equal(t, 10*time.Second, action.EndTime.Sub(action.StartTime))
	assert.JSONEq(t, `{"building_type":"farm"}`, string(action.Payload))

	balance, err := env.hamlet.GetBalance(ctx, v.VillageID)
	require.NoError(t, err)
	assertUniform(t, balance.Resources, 450)
}

func TestStartBuildingUpgrade_InvalidType(t *testing.T) {
	env := newTestEnv(t)
	v := env.newVillage(t)

	_, err := env.hamlet.StartBuildingUpgrade(context.Background(), v.VillageID, "Tower!")
	require.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))

	actions, err := env.hamlet.ListVillageActions(context.Background(), v.VillageID, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestApplyBuildUpgrade_RaisesLevel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	v := env.newVillage(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, env.hamlet.applyBuildUpgrade(ctx, v.VillageID, BuildUpgradePayload{BuildingType: "farm"}))
	}

	buildings, err := env.ds.GetBuildings(ctx, v.VillageID)
	require.NoError(t, err)
	require.Len(t, buildings, 1)
	assert.Equal(t, 3, buildings[0].Level)
}
