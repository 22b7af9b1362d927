package inpatient

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleContext() ConflictContext {
	return ConflictContext{
		EntityID:          uuid.MustParse("6f1c2a8e-3d4b-4c5a-9e7f-0a1b2c3d4e5f"),
		WardID:            uuid.MustParse("0e9d8c7b-6a5f-4e3d-8c2b-1a0f9e8d7c6b"),
		Label:             "A1",
		Current:           "occupied",
		Requested:         "maintenance",
		Capacity:          5,
		RequestedCapacity: 3,
		BedCount:          5,
	}
}

func TestClassify_EveryKindHasSuggestions(t *testing.T) {
	for _, kind := range ConflictKinds {
		t.Run(string(kind), func(t *testing.T) {
			r := Classify(kind, sampleContext())
			assert.Equal(t, kind, r.Kind)
			assert.NotEmpty(t, r.Message)
			assert.NotEmpty(t, r.Suggestions)
			for _, s := range r.Suggestions {
				assert.NotEmpty(t, s)
			}
		})
	}
}

func TestClassify_Suggestions(t *testing.T) {
	tests := []struct {
		kind ConflictKind
		want []string
	}{
		{ConflictOccupiedToMaintenance, []string{SuggestDischargeFirst, SuggestTransferPatient, SuggestDeferMaintenance}},
		{ConflictOccupiedToOutOfOrder, []string{SuggestDischargeFirst, SuggestTransferPatient, SuggestMaintenanceLater}},
		{ConflictCapacityExceeded, []string{SuggestIncreaseCapacity, SuggestRemoveUnusedBeds, SuggestOtherWard}},
		{ConflictInvalidTransition, []string{SuggestCheckWorkflow, SuggestProperSequence, SuggestContactAdmin}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.kind, sampleContext()).Suggestions, tt.kind)
	}
}

func TestClassify_Messages(t *testing.T) {
	ctx := sampleContext()
	assert.Equal(t, "Cannot change bed A1 from occupied to out of order. Discharge patient first.",
		Classify(ConflictOccupiedToOutOfOrder, ctx).Message)
	assert.Equal(t, "Invalid status transition from occupied to maintenance for bed A1.",
		Classify(ConflictInvalidTransition, ctx).Message)
	assert.Equal(t, "Bed number A1 already exists in this ward.",
		Classify(ConflictDuplicateBedNumber, ctx).Message)
	assert.Contains(t, Classify(ConflictCapacityExceeded, ctx).Message, "Capacity limit exceeded.")
}

func TestClassify_Idempotent(t *testing.T) {
	for _, kind := range ConflictKinds {
		first, err := json.Marshal(Classify(kind, sampleContext()))
		require.NoError(t, err)
		second, err := json.Marshal(Classify(kind, sampleContext()))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(second), kind)
	}
}

func TestClassify_UnknownKindPanics(t *testing.T) {
	assert.Panics(t, func() { Classify(ConflictKind("bed_on_fire"), sampleContext()) })
}

func TestConflictReport_PayloadShape(t *testing.T) {
	raw, err := json.Marshal(Classify(ConflictOccupiedToMaintenance, sampleContext()))
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))

	assert.Equal(t, "OCCUPIED_TO_MAINTENANCE", body["error"])
	assert.Equal(t, "occupied_to_maintenance", body["conflict_type"])
	assert.NotEmpty(t, body["message"])
	assert.Len(t, body["suggestions"], 3)

	bed, ok := body["bed"].(map[string]interface{})
	require.True(t, ok, "bed block missing: %s", raw)
	assert.Equal(t, "A1", bed["bed_number"])
	assert.Equal(t, "occupied", bed["current_status"])
	assert.Equal(t, "maintenance", bed["requested_status"])
	assert.NotContains(t, body, "ward")
}

func TestConflictReport_CapacityPayload(t *testing.T) {
	r := Classify(ConflictCapacityExceeded, sampleContext())
	assert.Equal(t, "ward", r.Entity())
	assert.Equal(t, "CAPACITY_EXCEEDED", r.Code())

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))

	ward, ok := body["ward"].(map[string]interface{})
	require.True(t, ok, "ward block missing: %s", raw)
	assert.Equal(t, float64(5), ward["current_capacity"])
	assert.Equal(t, float64(3), ward["requested_capacity"])
	assert.Equal(t, float64(5), ward["bed_count"])
	assert.NotContains(t, ward, "requested_bed_count")
}

func TestConflictReport_IsError(t *testing.T) {
	var err error = Classify(ConflictDuplicateBedNumber, sampleContext())
	assert.Equal(t, "Bed number A1 already exists in this ward.", err.Error())
}
