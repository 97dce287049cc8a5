package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btcoracle/ernest/pkg/oracleerr"
	"github.com/btcoracle/ernest/pkg/wireformat"
)

// testOracleEventBlob serializes a minimal OracleEvent whose maturity is
// maturityEpoch, matching the blob shape ListMaturedUnsigned decodes.
func testOracleEventBlob(t *testing.T, eventID string, maturityEpoch uint32) []byte {
	t.Helper()
	ev := wireformat.OracleEvent{
		Nonces:             [][32]byte{{}},
		EventMaturityEpoch: maturityEpoch,
		Descriptor: wireformat.DigitDecomposition{
			Base:      2,
			IsSigned:  false,
			Unit:      "blockreward",
			Precision: 2,
			NbDigits:  20,
		},
		EventID: eventID,
	}
	blob, err := ev.Serialize()
	require.NoError(t, err)
	return blob
}

// openTestStore skips the test unless DATABASE_URL is set, matching
// pkg/attester's integration test convention; a set but unreachable
// database fails the test.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping store integration test")
	}
	st, err := Open(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestAllocateCurrentMaxIndexReadsSeed(t *testing.T) {
	st := openTestStore(t)
	idx, err := st.AllocateCurrentMaxIndex(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, idx, uint32(0))
}

func TestSaveAndGetEventRoundTrips(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	eventID := "test-event-" + randomSuffix()
	var sig [64]byte
	sig[0] = 0xAB
	nonces := []NewEventNonce{{Index: 1}, {Index: 2}}
	nonces[0].Nonce[0] = 0x01
	nonces[1].Nonce[0] = 0x02

	require.NoError(t, st.SaveEventAndNonces(ctx, eventID, sig, []byte("serialized"), "hashrate event", nonces, "hashrate"))

	got, err := st.GetEvent(ctx, eventID)
	require.NoError(t, err)
	require.Equal(t, eventID, got.EventID)
	require.Equal(t, sig, got.AnnouncementSignature)
	require.Len(t, got.Nonces, 2)
	require.Nil(t, got.Nonces[0].Signature)

	eventType, err := st.EventType(ctx, eventID)
	require.NoError(t, err)
	require.Equal(t, "hashrate", eventType)
}

func TestSaveSignaturesRejectsSecondAttempt(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	eventID := "test-event-" + randomSuffix()
	nonces := []NewEventNonce{{Index: 10}}
	require.NoError(t, st.SaveEventAndNonces(ctx, eventID, [64]byte{}, []byte("x"), "n", nonces, "feerate"))

	sigs := []DigitSignature{{Outcome: "1"}}
	_, err := st.SaveSignatures(ctx, eventID, sigs)
	require.NoError(t, err)

	_, err = st.SaveSignatures(ctx, eventID, sigs)
	require.Error(t, err)
	require.True(t, oracleerr.Is(err, oracleerr.AlreadySigned))
}

func TestSaveSignaturesRejectsCountMismatch(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	eventID := "test-event-" + randomSuffix()
	nonces := []NewEventNonce{{Index: 20}, {Index: 21}}
	require.NoError(t, st.SaveEventAndNonces(ctx, eventID, [64]byte{}, []byte("x"), "n", nonces, "feerate"))

	_, err := st.SaveSignatures(ctx, eventID, []DigitSignature{{Outcome: "1"}})
	require.Error(t, err)
}

func TestListMaturedUnsignedFiltersBySignedState(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	eventID := "test-event-" + randomSuffix()
	nonces := []NewEventNonce{{Index: 30}}
	pastEpoch := uint32(timeNow().Add(-time.Hour).Unix())
	blob := testOracleEventBlob(t, eventID, pastEpoch)
	require.NoError(t, st.SaveEventAndNonces(ctx, eventID, [64]byte{}, blob, "n", nonces, "blockreward"))

	matured, err := st.ListMaturedUnsigned(ctx, "blockreward", timeNow())
	require.NoError(t, err)
	found := false
	for _, m := range matured {
		if m.EventID == eventID {
			found = true
		}
	}
	require.True(t, found)

	_, err = st.SaveSignatures(ctx, eventID, []DigitSignature{{Outcome: "1"}})
	require.NoError(t, err)

	matured, err = st.ListMaturedUnsigned(ctx, "blockreward", timeNow())
	require.NoError(t, err)
	for _, m := range matured {
		require.NotEqual(t, eventID, m.EventID)
	}
}

func TestListMaturedUnsignedExcludesNotYetMaturedEvents(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	eventID := "test-event-" + randomSuffix()
	nonces := []NewEventNonce{{Index: 31}}
	futureEpoch := uint32(timeNow().Add(24 * time.Hour).Unix())
	blob := testOracleEventBlob(t, eventID, futureEpoch)
	require.NoError(t, st.SaveEventAndNonces(ctx, eventID, [64]byte{}, blob, "n", nonces, "blockreward"))

	matured, err := st.ListMaturedUnsigned(ctx, "blockreward", timeNow())
	require.NoError(t, err)
	for _, m := range matured {
		require.NotEqual(t, eventID, m.EventID, "event maturing 24h from now must not be returned as matured")
	}
}

func TestParlayContractRoundTrips(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	id := "parlay-" + randomSuffix()
	row := ParlayContractRow{
		ID:                 id,
		CombinationMethod:  "multiply",
		MaxNormalizedValue: 10000,
		Parameters: []ParlayParameterRow{
			{DataType: "hashrate", Threshold: 500, Range: 100, IsAboveThreshold: true, Transformation: "linear", Weight: 1},
			{DataType: "feerate", Threshold: 10, Range: 5, IsAboveThreshold: false, Transformation: "sqrt", Weight: 2},
		},
	}
	require.NoError(t, st.SaveParlayContract(ctx, row))

	got, err := st.GetParlayContract(ctx, id)
	require.NoError(t, err)
	require.Equal(t, row.CombinationMethod, got.CombinationMethod)
	require.Equal(t, row.MaxNormalizedValue, got.MaxNormalizedValue)
	require.Len(t, got.Parameters, 2)
	require.Equal(t, "hashrate", got.Parameters[0].DataType)
	require.Equal(t, "feerate", got.Parameters[1].DataType)
}
